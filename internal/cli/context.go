package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Search every store, score hits by relevance and recency, then greedily pack them into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runContext,
	}

	searchFlags(cmd)
	cmd.Flags().IntP("budget", "b", 0, "Max tokens in output (default from config)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	q, err := queryFromFlags(cmd, args)
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetInt("budget")

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.Context(cmd.Context(), retrieval.ContextParams{Query: q, Budget: budget})
	if err != nil {
		return err
	}
	if textOutput() {
		fmt.Fprintln(cmd.OutOrStdout(), retrieval.RenderBlock(result))
		return nil
	}
	return printJSON(cmd.OutOrStdout(), result)
}
