package memory

import (
	"context"
	"sort"
)

// Pair is two entries and their token similarity.
type Pair struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Similarity float64 `json:"similarity"`
}

// RedundancyReport lists near-duplicate entries in a store.
type RedundancyReport struct {
	Store      string `json:"store"`
	Total      int    `json:"total"`
	Duplicates []Pair `json:"duplicates"`
	Similar    []Pair `json:"similar"`
}

// Redundancy compares every pair of live entries over their full-text
// fields. Pairs above DuplicateThreshold are duplicates, pairs above
// SimilarThreshold are similar.
func (m *Manager) Redundancy(ctx context.Context) (*RedundancyReport, error) {
	entries, err := m.List(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	texts := make([]map[string]bool, len(entries))
	for i, e := range entries {
		texts[i] = tokenSet(indexedText(m.schema, e.Fields))
	}

	rep := &RedundancyReport{Store: string(m.schema.Store), Total: len(entries)}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(entries); j++ {
			sim := setJaccard(texts[i], texts[j])
			p := Pair{A: entries[i].ID, B: entries[j].ID, Similarity: sim}
			switch {
			case sim > DuplicateThreshold:
				rep.Duplicates = append(rep.Duplicates, p)
			case sim > SimilarThreshold:
				rep.Similar = append(rep.Similar, p)
			}
		}
	}
	bySim := func(ps []Pair) func(i, j int) bool {
		return func(i, j int) bool { return ps[i].Similarity > ps[j].Similarity }
	}
	sort.SliceStable(rep.Duplicates, bySim(rep.Duplicates))
	sort.SliceStable(rep.Similar, bySim(rep.Similar))
	return rep, nil
}

func setJaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
