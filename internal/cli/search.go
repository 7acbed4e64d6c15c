package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/retrieval"
	"github.com/rcliao/memoria/internal/search"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories across stores",
		Long: "Search every store concurrently and merge the rankings. Methods: lexical_rank (bm25, default), " +
			"embedding, string_match and fuzzy_match.",
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}

	searchFlags(cmd)
	cmd.Flags().IntP("limit", "l", 0, "Max merged results (default from config)")
	cmd.Flags().Bool("groups", false, "Print per-store groups instead of the merged ranking")

	RootCmd.AddCommand(cmd)
}

func searchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("method", "m", string(search.MethodLexical), "Search method")
	cmd.Flags().String("field", "", "Match one field only")
	cmd.Flags().StringSliceP("store", "s", nil, "Limit to stores (repeatable)")
	cmd.Flags().Int("per-store", 0, "Max results per store (default from config)")
	cmd.Flags().Bool("authorized", false, "Reveal high-sensitivity vault secrets")
}

func queryFromFlags(cmd *cobra.Command, args []string) (retrieval.Query, error) {
	method, _ := cmd.Flags().GetString("method")
	field, _ := cmd.Flags().GetString("field")
	stores, _ := cmd.Flags().GetStringSlice("store")
	perStore, _ := cmd.Flags().GetInt("per-store")
	authorized, _ := cmd.Flags().GetBool("authorized")

	m, err := search.ParseMethod(method)
	if err != nil {
		return retrieval.Query{}, err
	}
	q := retrieval.Query{
		Text:       strings.Join(args, " "),
		Method:     m,
		Field:      field,
		PerStore:   perStore,
		Authorized: authorized,
	}
	for _, s := range stores {
		name, err := parseStore(s)
		if err != nil {
			return q, err
		}
		q.Stores = append(q.Stores, name)
	}
	return q, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := queryFromFlags(cmd, args)
	if err != nil {
		return err
	}
	q.Limit, _ = cmd.Flags().GetInt("limit")
	groups, _ := cmd.Flags().GetBool("groups")

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.SearchMemory(cmd.Context(), q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if textOutput() {
		for _, h := range res.Hits {
			fmt.Fprintf(out, "%.2f\t%s\n", h.Score, retrieval.Render(h))
		}
		for _, g := range res.Groups {
			if g.Error != "" {
				fmt.Fprintf(out, "! %s: %s\n", g.Store, g.Error)
			}
		}
		return nil
	}
	if groups {
		return printJSON(out, res.Groups)
	}
	if len(res.Hits) == 0 {
		fmt.Fprintln(out, "[]")
		return nil
	}
	return printJSON(out, res.Hits)
}
