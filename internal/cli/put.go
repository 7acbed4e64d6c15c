package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put <store>",
		Short: "Write an entry directly, merging with its duplicate",
		Long: "Insert or merge one entry without going through the router. Fields are given as " +
			"--set name=value; list fields take one item per line. For core blocks use `memoria core append`.",
		Args: cobra.ExactArgs(1),
		RunE: runPut,
	}

	cmd.Flags().StringArray("set", nil, "Field as name=value (repeatable)")
	cmd.Flags().String("json", "", "Fields as a JSON object")
	cmd.Flags().StringSlice("replace", nil, "Entry IDs this entry replaces")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	name, err := parseStore(args[0])
	if err != nil {
		return err
	}
	sets, _ := cmd.Flags().GetStringArray("set")
	raw, _ := cmd.Flags().GetString("json")
	replace, _ := cmd.Flags().GetStringSlice("replace")

	c := model.Candidate{Store: name, Fields: map[string]string{}}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Fields); err != nil {
			return fmt.Errorf("decode --json: %w", err)
		}
	}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("--set %q: want name=value", s)
		}
		c.Fields[strings.TrimSpace(k)] = strings.ReplaceAll(v, `\n`, "\n")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("no fields given (use --set or --json)")
	}

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	m, err := e.Manager(name)
	if err != nil {
		return err
	}
	if len(replace) > 0 {
		entries, err := m.Replace(cmd.Context(), replace, []model.Candidate{c})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	}

	res, err := m.InsertOrMerge(cmd.Context(), []model.Candidate{c})
	if err != nil {
		return err
	}
	item := res.Items[0]
	if item.Err != nil {
		return item.Err
	}
	return printJSON(cmd.OutOrStdout(), item)
}
