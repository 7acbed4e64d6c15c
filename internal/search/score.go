package search

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// FuzzyThreshold is the minimum partial ratio (0..100) for a fuzzy hit.
const FuzzyThreshold = 60

// StringScore scores case-insensitive containment of query in text: more
// occurrences and an earlier first match score higher. Zero means no match.
func StringScore(text, query string) float64 {
	t, q := Fold(text), Fold(strings.TrimSpace(query))
	if q == "" || t == "" {
		return 0
	}
	idx := strings.Index(t, q)
	if idx < 0 {
		return 0
	}
	count := float64(strings.Count(t, q))
	pos := float64(utf8.RuneCountInString(t[:idx]))
	length := float64(utf8.RuneCountInString(t))

	freq := count / (count + 1)
	early := 1 - pos/length
	return 0.7*freq + 0.3*early
}

// Ratio is the edit-distance similarity of two strings on a 0..100 scale.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// PartialRatio compares the shorter string against every equally long window
// of the longer one and returns the best Ratio. Inputs are folded first.
func PartialRatio(a, b string) float64 {
	a, b = Fold(strings.TrimSpace(a)), Fold(strings.TrimSpace(b))
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		if len(rb) == 0 {
			return 100
		}
		return 0
	}
	short := string(ra)
	best := 0.0
	for i := 0; i+len(ra) <= len(rb); i++ {
		r := Ratio(short, string(rb[i:i+len(ra)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}
