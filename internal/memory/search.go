package memory

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
	"github.com/rcliao/memoria/internal/store"
)

// DefaultSearchLimit caps results when SearchParams.Limit is zero.
const DefaultSearchLimit = 10

// SearchParams selects what and how to search within one store.
type SearchParams struct {
	Query  string
	Method search.Method
	// Field restricts matching to one field; empty means every text field, weighted.
	Field string
	Limit int
}

// Search ranks live entries of the store against the query.
func (m *Manager) Search(ctx context.Context, p SearchParams) ([]search.Result, error) {
	return m.searcher().run(ctx, p)
}

func (m *Manager) searcher() *searcher {
	return &searcher{schema: m.schema, store: m.store, vectors: m.vectors, org: m.org, log: m.log}
}

// searcher runs the four retrieval methods over any schema-described table.
type searcher struct {
	schema  *model.Schema
	store   store.Store
	vectors *search.VectorIndex
	org     string
	log     *slog.Logger
}

func (s *searcher) run(ctx context.Context, p SearchParams) ([]search.Result, error) {
	const op = "search"
	if p.Method == "" {
		p.Method = search.MethodLexical
	}
	if p.Limit <= 0 {
		p.Limit = DefaultSearchLimit
	}
	if p.Field != "" {
		if err := s.checkField(p.Method, p.Field); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, nil
	}

	var (
		rs  []search.Result
		err error
	)
	switch p.Method {
	case search.MethodLexical:
		rs, err = s.lexical(ctx, p)
	case search.MethodString:
		rs, err = s.stringMatch(ctx, p)
	case search.MethodFuzzy:
		rs, err = s.fuzzy(ctx, p)
	case search.MethodEmbedding:
		rs, err = s.embedding(ctx, p)
	default:
		return nil, errorf(op, KindValidation, s.schema.Store, "unknown method %q", p.Method)
	}
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, newError(op, KindPersistence, s.schema.Store, err)
	}

	search.Sort(rs)
	if len(rs) > p.Limit {
		rs = rs[:p.Limit]
	}
	return rs, nil
}

func (s *searcher) checkField(method search.Method, name string) error {
	const op = "search"
	f, ok := s.schema.Field(name)
	if !ok {
		return errorf(op, KindValidation, s.schema.Store, "unknown field %q", name)
	}
	if name == "secret_value" {
		return errorf(op, KindValidation, s.schema.Store, "field %q is not searchable", name)
	}
	if method == search.MethodLexical && !f.Indexed() {
		return errorf(op, KindValidation, s.schema.Store, "field %q has no full-text index", name)
	}
	return nil
}

// fields returns the fields to score with their relative weights.
func (s *searcher) fields(field string) map[string]float64 {
	if field != "" {
		return map[string]float64{field: 1}
	}
	return search.FieldWeights(s.schema)
}

// lexical runs an AND query and falls back to OR when AND finds nothing.
func (s *searcher) lexical(ctx context.Context, p SearchParams) ([]search.Result, error) {
	tokens := search.Tokenize(p.Query)
	if len(tokens) == 0 {
		return nil, nil
	}
	hits, err := s.store.Match(ctx, store.MatchParams{
		Store: s.schema.Store,
		Org:   s.org,
		Match: search.BuildMatch(tokens, p.Field, search.And),
		Limit: p.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && len(tokens) > 1 {
		hits, err = s.store.Match(ctx, store.MatchParams{
			Store: s.schema.Store,
			Org:   s.org,
			Match: search.BuildMatch(tokens, p.Field, search.Or),
			Limit: p.Limit,
		})
		if err != nil {
			return nil, err
		}
	}

	rs := make([]search.Result, 0, len(hits))
	for _, h := range hits {
		rs = append(rs, search.Result{Entry: h.Entry, Score: search.Saturate(h.Score), Field: p.Field})
	}
	return rs, nil
}

// stringMatch scores case-insensitive containment. SQL LIKE only folds
// ASCII, so non-ASCII queries scan the store instead of prefiltering.
func (s *searcher) stringMatch(ctx context.Context, p SearchParams) ([]search.Result, error) {
	weights := s.fields(p.Field)
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}

	var (
		entries []model.Entry
		err     error
	)
	q := strings.TrimSpace(p.Query)
	if isASCII(q) {
		entries, err = s.store.Like(ctx, store.LikeParams{
			Store: s.schema.Store, Org: s.org, Query: q, Fields: names,
		})
	} else {
		entries, err = s.store.List(ctx, store.ListParams{Store: s.schema.Store, Org: s.org})
	}
	if err != nil {
		return nil, err
	}

	var rs []search.Result
	for _, e := range entries {
		best, bestField := 0.0, ""
		for name, w := range weights {
			if sc := w * search.StringScore(e.Fields[name], q); sc > best {
				best, bestField = sc, name
			}
		}
		if best > 0 {
			rs = append(rs, search.Result{Entry: e, Score: best, Field: bestField})
		}
	}
	return rs, nil
}

// fuzzy keeps entries whose best field clears the partial-ratio threshold.
func (s *searcher) fuzzy(ctx context.Context, p SearchParams) ([]search.Result, error) {
	weights := s.fields(p.Field)
	entries, err := s.store.List(ctx, store.ListParams{Store: s.schema.Store, Org: s.org})
	if err != nil {
		return nil, err
	}

	var rs []search.Result
	for _, e := range entries {
		best, bestField := 0.0, ""
		for name, w := range weights {
			text := e.Fields[name]
			if text == "" {
				continue
			}
			r := search.PartialRatio(p.Query, text)
			if r < search.FuzzyThreshold {
				continue
			}
			if sc := r / 100 * w; sc > best {
				best, bestField = sc, name
			}
		}
		if bestField != "" {
			rs = append(rs, search.Result{Entry: e, Score: best, Field: bestField})
		}
	}
	return rs, nil
}

// embedding ranks by vector similarity, falling back to string_match when
// no embedder is configured or the query cannot be embedded.
func (s *searcher) embedding(ctx context.Context, p SearchParams) ([]search.Result, error) {
	if !s.vectors.Available() || len(s.schema.EmbeddedFields()) == 0 {
		s.log.Info("embedding unavailable, using string_match")
		return s.stringMatch(ctx, p)
	}
	if p.Field != "" {
		if f, _ := s.schema.Field(p.Field); !f.Embedded {
			return nil, errorf("search", KindValidation, s.schema.Store, "field %q has no embeddings", p.Field)
		}
	}

	hits, err := s.vectors.Query(ctx, s.schema.Store, s.org, p.Query, p.Field, p.Limit*3)
	if err != nil {
		s.log.Warn("embedding query failed, using string_match", "error", err)
		return s.stringMatch(ctx, p)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.EntryID)
	}
	entries, err := s.store.GetMany(ctx, s.schema.Store, s.org, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	rs := make([]search.Result, 0, len(hits))
	for _, h := range hits {
		e, ok := byID[h.EntryID]
		if !ok {
			continue
		}
		rs = append(rs, search.Result{Entry: e, Score: h.Similarity, Field: h.Field})
	}
	return rs, nil
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
