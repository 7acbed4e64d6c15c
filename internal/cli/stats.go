package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-store statistics",
		RunE:  runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.Stats(cmd.Context())
	if err != nil {
		return err
	}
	if textOutput() {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%d bytes, %d links)\n", stats.DBPath, stats.DBSizeBytes, stats.Links)
		for _, s := range stats.Stores {
			fmt.Fprintf(out, "%-16s active=%d deleted=%d chars=%d\n", s.Store, s.Active, s.Deleted, s.Chars)
		}
		return nil
	}
	return printJSON(cmd.OutOrStdout(), stats)
}
