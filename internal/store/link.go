package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/memoria/internal/model"
)

// Link records a relation between two entries. Links may cross stores.
func (s *SQLiteStore) Link(ctx context.Context, l model.Link) (*model.Link, error) {
	if !model.ValidRels[l.Rel] {
		return nil, fmt.Errorf("invalid relation %q (valid: supersedes, relates_to, derived_from)", l.Rel)
	}
	if l.FromID == "" || l.ToID == "" {
		return nil, fmt.Errorf("link needs both ends")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if err := addLink(ctx, s.db, l, formatTime(l.CreatedAt)); err != nil {
		return nil, err
	}
	return &l, nil
}

// Unlink removes a relation.
func (s *SQLiteStore) Unlink(ctx context.Context, l model.Link) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_links WHERE from_id = ? AND to_id = ? AND rel = ?`,
		l.FromID, l.ToID, l.Rel)
	return err
}

func addLink(ctx context.Context, db execer, l model.Link, at string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
		l.FromID, l.ToID, l.Rel, at)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// GetLinks returns all links touching an entry.
func (s *SQLiteStore) GetLinks(ctx context.Context, id string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, rel, created_at FROM memory_links
		 WHERE from_id = ? OR to_id = ?
		 ORDER BY created_at`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLinks(rows)
}

// Lineage follows supersedes links backwards from id, newest first.
func (s *SQLiteStore) Lineage(ctx context.Context, id string) ([]string, error) {
	var chain []string
	seen := map[string]bool{id: true}
	cur := id
	for {
		var prev string
		err := s.db.QueryRowContext(ctx,
			`SELECT to_id FROM memory_links WHERE from_id = ? AND rel = ? ORDER BY created_at LIMIT 1`,
			cur, model.RelSupersedes).Scan(&prev)
		if err != nil || seen[prev] {
			return chain, nil
		}
		seen[prev] = true
		chain = append(chain, prev)
		cur = prev
	}
}

func scanLinks(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]model.Link, error) {
	var links []model.Link
	for rows.Next() {
		var l model.Link
		var at string
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Rel, &at); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(TimeLayout, at)
		links = append(links, l)
	}
	return links, rows.Err()
}
