package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/memoria/internal/model"
)

// Dump is every row of every store, deleted rows included, plus links.
type Dump struct {
	Entries []model.Entry `json:"entries"`
	Blocks  []model.Block `json:"blocks"`
	Links   []model.Link  `json:"links"`
}

// orgTables lists every table holding organization-scoped rows.
func orgTables() []string {
	tables := make([]string, 0, len(model.AllStores))
	for _, name := range model.AllStores {
		if name == model.StoreCore {
			tables = append(tables, model.CoreSchema.Table)
			continue
		}
		tables = append(tables, model.Schemas[name].Table)
	}
	return tables
}

// orgIDs returns a subquery selecting every row ID of org, with its args.
func orgIDs(org string) (string, []any) {
	tables := orgTables()
	parts := make([]string, len(tables))
	args := make([]any, len(tables))
	for i, t := range tables {
		parts[i] = fmt.Sprintf(`SELECT id FROM %s WHERE organization_id = ?`, t)
		args[i] = org
	}
	return strings.Join(parts, " UNION ALL "), args
}

// ExportAll returns all rows for an organization, including soft-deleted ones,
// and the links touching them.
func (s *SQLiteStore) ExportAll(ctx context.Context, org string) (*Dump, error) {
	d := &Dump{}
	for _, store := range model.AllStores {
		if store == model.StoreCore {
			continue
		}
		sc := model.Schemas[store]
		q := fmt.Sprintf(`SELECT %s FROM %s WHERE organization_id = ? ORDER BY created_at, id`,
			entryColumns(sc, ""), sc.Table)
		entries, err := s.queryEntries(ctx, sc, q, org)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", store, err)
		}
		d.Entries = append(d.Entries, entries...)
	}

	blocks, err := s.ListBlocks(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("export core: %w", err)
	}
	d.Blocks = blocks

	ids, args := orgIDs(org)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT from_id, to_id, rel, created_at FROM memory_links
		WHERE from_id IN (%[1]s) OR to_id IN (%[1]s) ORDER BY created_at, from_id`, ids),
		append(args, args...)...)
	if err != nil {
		return nil, fmt.Errorf("export links: %w", err)
	}
	defer rows.Close()
	d.Links, err = scanLinks(rows)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Import writes a dump back with IDs, timestamps and deletion flags preserved.
// Rows whose ID already exists are replaced; other rows are left alone.
func (s *SQLiteStore) Import(ctx context.Context, d *Dump) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n, err := importDump(ctx, tx, d)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Restore replaces everything org holds with the dump: rows of every store,
// core blocks and links touching them are removed before the dump is
// written, all in one transaction.
func (s *SQLiteStore) Restore(ctx context.Context, org string, d *Dump) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ids, args := orgIDs(org)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM memory_links WHERE from_id IN (%[1]s) OR to_id IN (%[1]s)`, ids),
		append(args, args...)...); err != nil {
		return 0, fmt.Errorf("clear links: %w", err)
	}
	// Row deletes fire the FTS triggers.
	for _, t := range orgTables() {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE organization_id = ?`, t), org); err != nil {
			return 0, fmt.Errorf("clear %s: %w", t, err)
		}
	}

	n, err := importDump(ctx, tx, d)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func importDump(ctx context.Context, tx execer, d *Dump) (int, error) {
	imported := 0
	for _, e := range d.Entries {
		sc, err := model.SchemaFor(e.Store)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, sc.Table), e.ID); err != nil {
			return 0, err
		}
		if err := insertEntry(ctx, tx, sc, e); err != nil {
			return 0, err
		}
		imported++
	}
	for _, b := range d.Blocks {
		meta, err := encodeMeta(b.Metadata)
		if err != nil {
			return 0, err
		}
		deleted := 0
		if b.IsDeleted {
			deleted = 1
		}
		// Explicit delete so the FTS trigger sees the old row.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM core_blocks WHERE id = ? OR (organization_id = ? AND label = ?)`,
			b.ID, b.OrganizationID, b.Label); err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO core_blocks (id, organization_id, label, value, char_limit, created_at, updated_at, is_deleted, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.OrganizationID, b.Label, b.Value(), b.CharLimit,
			formatTime(b.CreatedAt), formatTime(b.UpdatedAt), deleted, meta)
		if err != nil {
			return 0, fmt.Errorf("import core block %q: %w", b.Label, err)
		}
		imported++
	}
	for _, l := range d.Links {
		if err := addLink(ctx, tx, l, formatTime(l.CreatedAt)); err != nil {
			return 0, err
		}
	}
	return imported, nil
}
