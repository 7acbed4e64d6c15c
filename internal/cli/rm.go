package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rm := &cobra.Command{
		Use:   "rm <store> <id>...",
		Short: "Soft-delete entries",
		Args:  cobra.MinimumNArgs(2),
		RunE:  func(cmd *cobra.Command, args []string) error { return runSetDeleted(cmd, args, true) },
	}
	restore := &cobra.Command{
		Use:   "restore <store> <id>...",
		Short: "Restore soft-deleted entries",
		Args:  cobra.MinimumNArgs(2),
		RunE:  func(cmd *cobra.Command, args []string) error { return runSetDeleted(cmd, args, false) },
	}

	RootCmd.AddCommand(rm, restore)
}

func runSetDeleted(cmd *cobra.Command, args []string, deleted bool) error {
	name, err := parseStore(args[0])
	if err != nil {
		return err
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
	var n int
	if deleted {
		n, err = m.Delete(cmd.Context(), args[1:])
	} else {
		n, err = m.Restore(cmd.Context(), args[1:])
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "store": name, "changed": n})
}
