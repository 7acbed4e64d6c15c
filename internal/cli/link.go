package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <from-id> <to-id>",
		Short: "Create or remove a relation between entries",
		Long:  "Links may cross stores. Relations: relates_to, derived_from, supersedes.",
		Args:  cobra.ExactArgs(2),
		RunE:  runLink,
	}

	cmd.Flags().StringP("rel", "r", model.RelRelatesTo, "Relation")
	cmd.Flags().Bool("rm", false, "Remove the link")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	rel, _ := cmd.Flags().GetString("rel")
	rm, _ := cmd.Flags().GetBool("rm")

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	st := e.Deps().Store
	l := model.Link{FromID: args[0], ToID: args[1], Rel: rel}
	if rm {
		if err := st.Unlink(cmd.Context(), l); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "removed": l})
	}
	link, err := st.Link(cmd.Context(), l)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), link)
}
