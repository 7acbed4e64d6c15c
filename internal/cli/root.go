// Package cli implements the memoria CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/config"
	"github.com/rcliao/memoria/internal/engine"
	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/telemetry"
)

var (
	configPath string
	dbPath     string
	orgFlag    string
	formatFlag string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memoria",
	Short: "Multi-store memory for a personal assistant",
	Long: "Consolidates captured screen text, screenshots and voice transcripts into six memory stores " +
		"(core, episodic, semantic, procedural, resource, knowledge vault) and searches them. SQLite-backed, single binary.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.memoria/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMORIA_DB or ~/.memoria/memory.db)")
	RootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "Organization (default: $MEMORIA_ORG or \"default\")")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}
	if orgFlag != "" {
		cfg.Org = orgFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tel := telemetry.New(cmd.ErrOrStderr(), cfg.TelemetryOptions())
	return engine.Open(cmd.Context(), cfg, tel)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func textOutput() bool {
	return strings.EqualFold(formatFlag, "text")
}

func parseStore(s string) (model.StoreName, error) {
	name, err := model.ParseStoreName(s)
	if err != nil {
		return "", fmt.Errorf("%w (valid: %s)", err, storeList())
	}
	return name, nil
}

func storeList() string {
	names := make([]string, len(model.AllStores))
	for i, n := range model.AllStores {
		names[i] = string(n)
	}
	return strings.Join(names, ", ")
}

// readInput returns the positional args joined, or stdin when it is piped.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}
