package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Report duplicate and near-duplicate entries per store",
		Long:  "Compare every pair of active entries by token overlap: above 0.9 is a duplicate, above 0.7 is similar.",
		RunE:  runReflect,
	}

	RootCmd.AddCommand(cmd)
}

func runReflect(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	reports, err := e.Reflect(cmd.Context())
	if err != nil {
		return err
	}
	if textOutput() {
		out := cmd.OutOrStdout()
		for _, r := range reports {
			fmt.Fprintf(out, "%-16s entries=%d duplicates=%d similar=%d\n", r.Store, r.Total, len(r.Duplicates), len(r.Similar))
			for _, p := range r.Duplicates {
				fmt.Fprintf(out, "  dup  %.2f %s %s\n", p.Similarity, p.A, p.B)
			}
		}
		return nil
	}
	return printJSON(cmd.OutOrStdout(), reports)
}
