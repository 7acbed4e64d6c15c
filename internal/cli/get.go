package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/memory"
	"github.com/rcliao/memoria/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <store> <id>",
		Short: "Retrieve an entry with its links",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}

	cmd.Flags().Bool("deleted", false, "Allow soft-deleted entries")
	cmd.Flags().Bool("history", false, "Include the IDs this entry superseded, nearest first")
	cmd.Flags().Bool("authorized", false, "Reveal high-sensitivity vault secrets")
	cmd.Flags().Bool("secret", false, "Print only the secret value of a vault entry")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	name, err := parseStore(args[0])
	if err != nil {
		return err
	}
	deleted, _ := cmd.Flags().GetBool("deleted")
	history, _ := cmd.Flags().GetBool("history")
	authorized, _ := cmd.Flags().GetBool("authorized")
	secret, _ := cmd.Flags().GetBool("secret")

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	m, err := e.Manager(name)
	if err != nil {
		return err
	}
	if secret {
		v, err := m.Secret(cmd.Context(), args[1], authorized)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
		return err
	}
	entry, err := m.Get(cmd.Context(), args[1], deleted)
	if err != nil {
		return err
	}
	if !authorized {
		redacted, _ := memory.Redact(*entry)
		entry = &redacted
	}
	st := e.Deps().Store
	links, err := st.GetLinks(cmd.Context(), entry.ID)
	if err != nil {
		return err
	}

	out := struct {
		*model.Entry
		Links   []model.Link `json:"links,omitempty"`
		Lineage []string     `json:"lineage,omitempty"`
	}{Entry: entry, Links: links}
	if history {
		if out.Lineage, err = st.Lineage(cmd.Context(), entry.ID); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), out)
}
