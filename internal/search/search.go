// Package search holds the ranking primitives shared by every memory store:
// query tokenization, FTS5 query building, string and fuzzy scoring, score
// normalisation and the embedding index.
package search

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/rcliao/memoria/internal/model"
)

// Method selects a retrieval strategy.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodString    Method = "string_match"
	MethodLexical   Method = "lexical_rank"
	MethodFuzzy     Method = "fuzzy_match"
)

// Methods lists every method in display order.
var Methods = []Method{MethodLexical, MethodEmbedding, MethodString, MethodFuzzy}

// ParseMethod maps user input to a Method. Empty input means lexical_rank.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lexical_rank", "lexical", "bm25":
		return MethodLexical, nil
	case "embedding", "vector", "semantic":
		return MethodEmbedding, nil
	case "string_match", "string", "substring":
		return MethodString, nil
	case "fuzzy_match", "fuzzy":
		return MethodFuzzy, nil
	}
	return "", fmt.Errorf("unknown search method %q", s)
}

// Result is a scored entry. Score is in [0,1] for every method.
type Result struct {
	Entry model.Entry `json:"entry"`
	Score float64     `json:"score"`
	// Field is the best-matching field when the method can tell.
	Field string `json:"field,omitempty"`
}

// Sort orders results by score, then most recently updated, then ID.
func Sort(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		if !rs[i].Entry.UpdatedAt.Equal(rs[j].Entry.UpdatedAt) {
			return rs[i].Entry.UpdatedAt.After(rs[j].Entry.UpdatedAt)
		}
		return rs[i].Entry.ID > rs[j].Entry.ID
	})
}

// Fold normalises text for comparison: NFKC, then Unicode case folding.
func Fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// Tokenize splits a query into folded word tokens, dropping duplicates.
func Tokenize(s string) []string {
	words := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// Saturate maps a non-negative raw score onto [0,1) as s/(s+1).
func Saturate(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}

// FieldWeights returns the relative weight (0..1] of each indexed field.
func FieldWeights(sc *model.Schema) map[string]float64 {
	max := 0.0
	for _, f := range sc.IndexedFields() {
		if f.Weight > max {
			max = f.Weight
		}
	}
	out := make(map[string]float64)
	for _, f := range sc.IndexedFields() {
		out[f.Name] = f.Weight / max
	}
	return out
}
