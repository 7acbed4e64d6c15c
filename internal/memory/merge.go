package memory

import (
	"strings"
	"unicode/utf8"

	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
)

// Similarity thresholds on token Jaccard.
const (
	DuplicateThreshold = 0.9
	SimilarThreshold   = 0.7
)

// mergeFields combines an existing entry's fields with a candidate's
// according to each field's merge rule. Neither input is modified.
func mergeFields(sc *model.Schema, old, cand map[string]string) map[string]string {
	out := make(map[string]string, len(sc.Fields))
	for _, f := range sc.Fields {
		if v := mergeValue(f.Merge, old[f.Name], cand[f.Name]); v != "" {
			out[f.Name] = v
		}
	}
	return out
}

func mergeValue(rule model.MergeRule, old, cand string) string {
	if cand == "" {
		return old
	}
	if old == "" {
		return cand
	}
	switch rule {
	case model.KeepFirst:
		return old
	case model.PreferNewer:
		return cand
	case model.KeepLonger:
		if utf8.RuneCountInString(cand) > utf8.RuneCountInString(old) {
			return cand
		}
		return old
	case model.UnionText:
		fo, fc := search.Fold(old), search.Fold(cand)
		switch {
		case strings.Contains(fo, fc):
			return old
		case strings.Contains(fc, fo):
			return cand
		}
		return old + "\n" + cand
	case model.UnionList:
		items := model.SplitList(old)
		seen := make(map[string]bool, len(items))
		for _, it := range items {
			seen[search.Fold(it)] = true
		}
		for _, it := range model.SplitList(cand) {
			if k := search.Fold(it); !seen[k] {
				seen[k] = true
				items = append(items, it)
			}
		}
		return model.JoinList(items)
	case model.HigherTier:
		if model.ValidSensitivities[cand] > model.ValidSensitivities[old] {
			return cand
		}
		return old
	}
	return old
}

func sameFields(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// tokenSet is the set of folded word tokens of s.
func tokenSet(s string) map[string]bool {
	toks := search.Tokenize(s)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}

// Jaccard is the token-set similarity of two texts in [0,1].
func Jaccard(a, b string) float64 {
	return setJaccard(tokenSet(a), tokenSet(b))
}

// keyText is the text two entries are compared on for duplicate detection:
// the identity fields plus the summary, or the primary field without one.
func keyText(sc *model.Schema, fields map[string]string) string {
	extra := sc.Primary
	if _, ok := sc.Field("summary"); ok {
		extra = "summary"
	}
	var parts []string
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, sc.Identity...), extra) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if v := fields[name]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// indexedText joins every full-text field of an entry.
func indexedText(sc *model.Schema, fields map[string]string) string {
	var parts []string
	for _, f := range sc.IndexedFields() {
		if v := fields[f.Name]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
