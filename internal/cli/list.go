package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list <store>",
		Short: "List entries of one store, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("deleted", false, "Include soft-deleted entries")
	cmd.Flags().Bool("ids-only", false, "Only output entry IDs")
	cmd.Flags().Bool("authorized", false, "Reveal high-sensitivity vault secrets")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) error {
	name, err := parseStore(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	deleted, _ := cmd.Flags().GetBool("deleted")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")
	authorized, _ := cmd.Flags().GetBool("authorized")

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	m, err := e.Manager(name)
	if err != nil {
		return fmt.Errorf("%w (use `memoria core show` for core blocks)", err)
	}
	entries, err := m.List(cmd.Context(), limit, deleted)
	if err != nil {
		return err
	}

	if idsOnly {
		for _, en := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), en.ID)
		}
		return nil
	}
	if !authorized {
		for i := range entries {
			entries[i], _ = memory.Redact(entries[i])
		}
	}
	return printJSON(cmd.OutOrStdout(), entries)
}
