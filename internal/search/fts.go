package search

import "strings"

// Operator joins query terms.
type Operator string

const (
	And Operator = "AND"
	Or  Operator = "OR"
)

// BuildMatch renders tokens as an FTS5 MATCH expression. Every token is
// quoted so FTS5 syntax characters in user input are literal. A non-empty
// field restricts each term to that column.
func BuildMatch(tokens []string, field string, op Operator) string {
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		q := `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		if field != "" {
			q = field + " : " + q
		}
		terms = append(terms, q)
	}
	return strings.Join(terms, " "+string(op)+" ")
}
