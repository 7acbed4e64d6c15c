package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Save or load a full memory snapshot",
	}
	save := &cobra.Command{
		Use:   "save <dir>",
		Short: "Write memory.json and config.yaml to dir",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotSave,
	}
	load := &cobra.Command{
		Use:   "load <dir>",
		Short: "Import a snapshot and rebuild the vector index",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotLoad,
	}

	snapshot.AddCommand(save, load)
	RootCmd.AddCommand(snapshot)
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	info, err := e.SaveSnapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), info)
}

func runSnapshotLoad(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	info, err := e.LoadSnapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), info)
}
