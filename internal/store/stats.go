package store

import (
	"context"
	"fmt"
	"os"

	"github.com/rcliao/memoria/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string       `json:"db_path"`
	DBSizeBytes int64        `json:"db_size_bytes"`
	Total       int          `json:"total"`
	Active      int          `json:"active"`
	Links       int          `json:"links"`
	Stores      []StoreStats `json:"stores"`
}

// StoreStats holds per-store counts.
type StoreStats struct {
	Store   model.StoreName `json:"store"`
	Total   int             `json:"total"`
	Active  int             `json:"active"`
	Deleted int             `json:"deleted"`
	Chars   int             `json:"chars"`
}

// Stats returns per-store row counts for an organization.
func (s *SQLiteStore) Stats(ctx context.Context, org string) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links`).Scan(&st.Links)

	for _, store := range model.AllStores {
		sc, err := schemaFor(store)
		if err != nil {
			return nil, err
		}
		var lengths []string
		for _, f := range sc.Fields {
			lengths = append(lengths, fmt.Sprintf("length(%s)", f.Name))
		}
		q := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(is_deleted = 0), 0),
			COALESCE(SUM(CASE WHEN is_deleted = 0 THEN %s ELSE 0 END), 0)
			FROM %s WHERE organization_id = ?`, joinPlus(lengths), sc.Table)

		ss := StoreStats{Store: store}
		if err := s.db.QueryRowContext(ctx, q, org).Scan(&ss.Total, &ss.Active, &ss.Chars); err != nil {
			return st, fmt.Errorf("stats %s: %w", store, err)
		}
		ss.Deleted = ss.Total - ss.Active
		st.Total += ss.Total
		st.Active += ss.Active
		st.Stores = append(st.Stores, ss)
	}

	return st, nil
}

func joinPlus(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " + " + p
	}
	return out
}
