package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcliao/memoria/internal/model"
)

// Match runs an FTS5 MATCH expression and ranks live rows by weighted bm25.
// Scores are -bm25 so higher is better; ties fall back to recency.
func (s *SQLiteStore) Match(ctx context.Context, p MatchParams) ([]Hit, error) {
	sc, err := schemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	fts := sc.FTSTable()

	var weights []string
	for _, f := range sc.IndexedFields() {
		weights = append(weights, strconv.FormatFloat(f.Weight, 'f', -1, 64))
	}

	q := fmt.Sprintf(`
		SELECT %s, -bm25(%s, %s) AS score
		FROM %s
		JOIN %s m ON m.rowid = %s.rowid
		WHERE %s MATCH ? AND m.organization_id = ? AND m.is_deleted = 0
		ORDER BY score DESC, m.updated_at DESC
		LIMIT ?`,
		entryColumns(sc, "m"), fts, strings.Join(weights, ", "),
		fts, sc.Table, fts, fts)

	rows, err := s.db.QueryContext(ctx, q, p.Match, p.Org, limit)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", p.Store, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var score float64
		e, err := scanEntry(sc, rows, &score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Entry: e, Score: score})
	}
	return hits, rows.Err()
}

// Like returns live rows where any of the given fields contains the query.
// SQLite LIKE folds ASCII case only; callers rescore in Go.
func (s *SQLiteStore) Like(ctx context.Context, p LikeParams) ([]model.Entry, error) {
	sc, err := schemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	fields := p.Fields
	if len(fields) == 0 {
		for _, f := range sc.IndexedFields() {
			fields = append(fields, f.Name)
		}
	}

	pattern := "%" + escapeLike(p.Query) + "%"
	args := []interface{}{p.Org}
	var ors []string
	for _, f := range fields {
		if _, ok := sc.Field(f); !ok {
			return nil, fmt.Errorf("unknown field %q for %s", f, p.Store)
		}
		ors = append(ors, fmt.Sprintf(`%s LIKE ? ESCAPE '\'`, f))
		args = append(args, pattern)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE organization_id = ? AND is_deleted = 0 AND (%s)
		ORDER BY updated_at DESC`,
		entryColumns(sc, ""), sc.Table, strings.Join(ors, " OR "))
	if p.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, p.Limit)
	}
	return s.queryEntries(ctx, sc, q, args...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
