package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memoria/internal/model"
)

// SQLiteStore implements Store using SQLite with one table and one FTS5 index per store.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var coreSchema = model.CoreSchema

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func schemaFor(store model.StoreName) (*model.Schema, error) {
	if store == model.StoreCore {
		return coreSchema, nil
	}
	return model.SchemaFor(store)
}

func (s *SQLiteStore) migrate() error {
	base := `
	CREATE TABLE IF NOT EXISTS core_blocks (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		label           TEXT NOT NULL,
		value           TEXT NOT NULL DEFAULT '',
		char_limit      INTEGER NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		is_deleted      INTEGER NOT NULL DEFAULT 0,
		metadata        TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_core_blocks_label ON core_blocks(organization_id, label);

	CREATE TABLE IF NOT EXISTS memory_links (
		from_id    TEXT NOT NULL,
		to_id      TEXT NOT NULL,
		rel        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id);
	`
	if _, err := s.db.Exec(base); err != nil {
		return err
	}
	if err := s.migrateFTS(coreSchema); err != nil {
		return err
	}

	for _, store := range model.AllStores {
		if store == model.StoreCore {
			continue
		}
		sc := model.Schemas[store]
		cols := make([]string, 0, len(sc.Fields))
		for _, f := range sc.Fields {
			cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", f.Name))
		}
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			%[2]s,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			is_deleted      INTEGER NOT NULL DEFAULT 0,
			metadata        TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_org ON %[1]s(organization_id, is_deleted);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated ON %[1]s(updated_at DESC);
		`, sc.Table, strings.Join(cols, ",\n\t\t\t"))
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create %s: %w", sc.Table, err)
		}
		if err := s.migrateFTS(sc); err != nil {
			return err
		}
	}
	return nil
}

// migrateFTS creates the external-content FTS5 index and its sync triggers.
func (s *SQLiteStore) migrateFTS(sc *model.Schema) error {
	var cols []string
	for _, f := range sc.IndexedFields() {
		cols = append(cols, f.Name)
	}
	list := strings.Join(cols, ", ")
	newVals := "new." + strings.Join(cols, ", new.")
	oldVals := "old." + strings.Join(cols, ", old.")
	fts := sc.FTSTable()

	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
			%s,
			content=%s,
			content_rowid=rowid,
			tokenize='unicode61 remove_diacritics 2'
		)`, fts, list, sc.Table),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_ai AFTER INSERT ON %[1]s BEGIN
			INSERT INTO %[2]s(rowid, %[3]s) VALUES (new.rowid, %[4]s);
		END`, sc.Table, fts, list, newVals),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_ad AFTER DELETE ON %[1]s BEGIN
			INSERT INTO %[2]s(%[2]s, rowid, %[3]s) VALUES('delete', old.rowid, %[4]s);
		END`, sc.Table, fts, list, oldVals),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_au AFTER UPDATE ON %[1]s BEGIN
			INSERT INTO %[2]s(%[2]s, rowid, %[3]s) VALUES('delete', old.rowid, %[4]s);
			INSERT INTO %[2]s(rowid, %[3]s) VALUES (new.rowid, %[5]s);
		END`, sc.Table, fts, list, oldVals, newVals),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create %s: %w", fts, err)
		}
	}
	return nil
}

// entryColumns is the SELECT list shared by every entry query, optionally table-qualified.
func entryColumns(sc *model.Schema, alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	cols := []string{p + "id", p + "organization_id"}
	for _, f := range sc.Fields {
		cols = append(cols, p+f.Name)
	}
	cols = append(cols, p+"created_at", p+"updated_at", p+"is_deleted", p+"metadata")
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry reads entryColumns plus any extra trailing destinations.
func scanEntry(sc *model.Schema, row scanner, extra ...interface{}) (model.Entry, error) {
	e := model.Entry{Store: sc.Store, Fields: make(map[string]string, len(sc.Fields))}
	vals := make([]string, len(sc.Fields))
	var createdAt, updatedAt string
	var deleted int
	var meta sql.NullString

	dest := []interface{}{&e.ID, &e.OrganizationID}
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	dest = append(dest, &createdAt, &updatedAt, &deleted, &meta)
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return e, err
	}

	for i, f := range sc.Fields {
		if vals[i] != "" {
			e.Fields[f.Name] = vals[i]
		}
	}
	e.CreatedAt, _ = time.Parse(TimeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(TimeLayout, updatedAt)
	e.IsDeleted = deleted != 0
	if meta.Valid && meta.String != "" {
		json.Unmarshal([]byte(meta.String), &e.Metadata)
	}
	return e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(TimeLayout)
}

func encodeMeta(m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	str := string(b)
	return &str, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertEntry writes e verbatim, including its ID and deletion flag.
func insertEntry(ctx context.Context, db execer, sc *model.Schema, e model.Entry) error {
	meta, err := encodeMeta(e.Metadata)
	if err != nil {
		return err
	}
	cols := []string{"id", "organization_id"}
	args := []interface{}{e.ID, e.OrganizationID}
	for _, f := range sc.Fields {
		cols = append(cols, f.Name)
		args = append(args, e.Fields[f.Name])
	}
	cols = append(cols, "created_at", "updated_at", "is_deleted", "metadata")
	deleted := 0
	if e.IsDeleted {
		deleted = 1
	}
	args = append(args, formatTime(e.CreatedAt), formatTime(e.UpdatedAt), deleted, meta)

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		sc.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %s: %w", sc.Store, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) newEntry(sc *model.Schema, p InsertParams) model.Entry {
	fields := make(map[string]string, len(p.Fields))
	for _, f := range sc.Fields {
		if v := p.Fields[f.Name]; v != "" {
			fields[f.Name] = v
		}
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return model.Entry{
		ID:             s.newID(updated),
		OrganizationID: p.Org,
		Store:          sc.Store,
		Fields:         fields,
		CreatedAt:      created.UTC(),
		UpdatedAt:      updated.UTC(),
		Metadata:       p.Metadata,
	}
}

// Insert stores a new entry and returns it with its assigned ID.
func (s *SQLiteStore) Insert(ctx context.Context, p InsertParams) (*model.Entry, error) {
	sc, err := model.SchemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	e := s.newEntry(sc, p)
	if err := insertEntry(ctx, s.db, sc, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Supersede soft-deletes the old rows, inserts the new ones and links them, atomically.
// It fails with ErrNotFound if any old row is already gone.
func (s *SQLiteStore) Supersede(ctx context.Context, p SupersedeParams) ([]model.Entry, error) {
	sc, err := model.SchemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	at := formatTime(p.At)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, id := range p.OldIDs {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET is_deleted = 1, updated_at = ?
			 WHERE id = ? AND organization_id = ? AND is_deleted = 0`, sc.Table),
			at, id, p.Org)
		if err != nil {
			return nil, fmt.Errorf("soft delete %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("supersede %s: %w", id, ErrNotFound)
		}
	}

	out := make([]model.Entry, 0, len(p.New))
	for _, ip := range p.New {
		ip.Org = p.Org
		e := s.newEntry(sc, ip)
		if err := insertEntry(ctx, tx, sc, e); err != nil {
			return nil, err
		}
		for _, old := range p.OldIDs {
			if err := addLink(ctx, tx, model.Link{FromID: e.ID, ToID: old, Rel: model.RelSupersedes}, at); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get retrieves one entry by ID.
func (s *SQLiteStore) Get(ctx context.Context, p GetParams) (*model.Entry, error) {
	sc, err := schemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND organization_id = ?`,
		entryColumns(sc, ""), sc.Table)
	if !p.IncludeDeleted {
		q += ` AND is_deleted = 0`
	}
	e, err := scanEntry(sc, s.db.QueryRowContext(ctx, q, p.ID, p.Org))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s entry %s: %w", p.Store, p.ID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetMany returns the live entries among ids, in no particular order.
func (s *SQLiteStore) GetMany(ctx context.Context, store model.StoreName, org string, ids []string) ([]model.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sc, err := schemaFor(store)
	if err != nil {
		return nil, err
	}
	args := []interface{}{org}
	for _, id := range ids {
		args = append(args, id)
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE organization_id = ? AND is_deleted = 0 AND id IN (%s)`,
		entryColumns(sc, ""), sc.Table, placeholders(len(ids)))
	return s.queryEntries(ctx, sc, q, args...)
}

// List returns entries ordered by most recently updated.
func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	sc, err := schemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	where := []string{"organization_id = ?"}
	args := []interface{}{p.Org}
	if !p.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY updated_at DESC, id DESC`,
		entryColumns(sc, ""), sc.Table, strings.Join(where, " AND "))
	if p.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, p.Limit)
	}
	return s.queryEntries(ctx, sc, q, args...)
}

// FindByIdentity returns live entries matching every identity value case-insensitively.
func (s *SQLiteStore) FindByIdentity(ctx context.Context, p IdentityParams) ([]model.Entry, error) {
	sc, err := model.SchemaFor(p.Store)
	if err != nil {
		return nil, err
	}
	if len(sc.Identity) == 0 {
		return nil, nil
	}
	where := []string{"organization_id = ?", "is_deleted = 0"}
	args := []interface{}{p.Org}
	for _, name := range sc.Identity {
		where = append(where, fmt.Sprintf("lower(trim(%s)) = lower(trim(?))", name))
		args = append(args, p.Values[name])
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY updated_at DESC`,
		entryColumns(sc, ""), sc.Table, strings.Join(where, " AND "))
	return s.queryEntries(ctx, sc, q, args...)
}

// SetDeleted soft-deletes (or restores) entries and reports how many changed.
func (s *SQLiteStore) SetDeleted(ctx context.Context, p DeleteParams) (int, error) {
	if len(p.IDs) == 0 {
		return 0, nil
	}
	sc, err := schemaFor(p.Store)
	if err != nil {
		return 0, err
	}
	to, from := 1, 0
	if p.Restore {
		to, from = 0, 1
	}
	args := []interface{}{to, formatTime(p.At), p.Org, from}
	for _, id := range p.IDs {
		args = append(args, id)
	}
	q := fmt.Sprintf(`UPDATE %s SET is_deleted = ?, updated_at = ?
		WHERE organization_id = ? AND is_deleted = ? AND id IN (%s)`,
		sc.Table, placeholders(len(p.IDs)))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("set deleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, sc *model.Schema, q string, args ...interface{}) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(sc, rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBlock returns the core block with the given label.
func (s *SQLiteStore) GetBlock(ctx context.Context, org, label string) (*model.Block, error) {
	q := fmt.Sprintf(`SELECT %s, char_limit FROM core_blocks WHERE organization_id = ? AND label = ?`,
		entryColumns(coreSchema, ""))
	var limit int
	e, err := scanEntry(coreSchema, s.db.QueryRowContext(ctx, q, org, label), &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("core block %q: %w", label, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b := blockFromEntry(e, limit)
	return &b, nil
}

// ListBlocks returns every core block of an organization ordered by label.
func (s *SQLiteStore) ListBlocks(ctx context.Context, org string) ([]model.Block, error) {
	q := fmt.Sprintf(`SELECT %s, char_limit FROM core_blocks WHERE organization_id = ? ORDER BY label`,
		entryColumns(coreSchema, ""))
	rows, err := s.db.QueryContext(ctx, q, org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var limit int
		e, err := scanEntry(coreSchema, rows, &limit)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blockFromEntry(e, limit))
	}
	return blocks, rows.Err()
}

// PutBlock creates or overwrites a core block, keyed by organization and label.
// A block without an ID gets one.
func (s *SQLiteStore) PutBlock(ctx context.Context, b *model.Block) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	if b.ID == "" {
		b.ID = s.newID(b.CreatedAt)
	}
	meta, err := encodeMeta(b.Metadata)
	if err != nil {
		return err
	}
	deleted := 0
	if b.IsDeleted {
		deleted = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO core_blocks (id, organization_id, label, value, char_limit, created_at, updated_at, is_deleted, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, label) DO UPDATE SET
			value = excluded.value,
			char_limit = excluded.char_limit,
			updated_at = excluded.updated_at,
			is_deleted = excluded.is_deleted,
			metadata = excluded.metadata`,
		b.ID, b.OrganizationID, b.Label, b.Value(), b.CharLimit,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), deleted, meta)
	if err != nil {
		return fmt.Errorf("put core block %q: %w", b.Label, err)
	}
	return nil
}

func blockFromEntry(e model.Entry, limit int) model.Block {
	return model.Block{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		Label:          e.Fields["label"],
		Lines:          e.List("value"),
		CharLimit:      limit,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		IsDeleted:      e.IsDeleted,
		Metadata:       e.Metadata,
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
