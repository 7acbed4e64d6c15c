package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/memoria/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertSemantic(t *testing.T, s *SQLiteStore, name, summary, details string) *model.Entry {
	t.Helper()
	e, err := s.Insert(context.Background(), InsertParams{
		Store: model.StoreSemantic,
		Org:   "org",
		Fields: map[string]string{
			"name": name, "summary": summary, "details": details,
		},
	})
	if err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
	return e
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	e, err := s.Insert(ctx, InsertParams{
		Store:     model.StoreSemantic,
		Org:       "org",
		Fields:    map[string]string{"name": "Go", "summary": "Go is a compiled language", "bogus": "dropped"},
		Metadata:  map[string]any{"origin": "test"},
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if _, ok := e.Fields["bogus"]; ok {
		t.Error("unknown field should be dropped")
	}

	got, err := s.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "org", ID: e.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Get("summary") != "Go is a compiled language" {
		t.Errorf("unexpected summary %q", got.Get("summary"))
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at lost precision: %v vs %v", got.CreatedAt, created)
	}
	if got.Metadata["origin"] != "test" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}

	if _, err := s.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "other", ID: e.ID}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found across organizations, got %v", err)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := insertSemantic(t, s, "Rust", "Rust has a borrow checker", "")

	n, err := s.SetDeleted(ctx, DeleteParams{Store: model.StoreSemantic, Org: "org", IDs: []string{e.ID}})
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if _, err := s.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "org", ID: e.ID}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted entry hidden, got %v", err)
	}
	got, err := s.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "org", ID: e.ID, IncludeDeleted: true})
	if err != nil || !got.IsDeleted {
		t.Fatalf("expected deleted row kept, got %v %v", got, err)
	}

	// Deleting again is a no-op
	n, _ = s.SetDeleted(ctx, DeleteParams{Store: model.StoreSemantic, Org: "org", IDs: []string{e.ID}})
	if n != 0 {
		t.Errorf("expected 0 changes, got %d", n)
	}

	n, _ = s.SetDeleted(ctx, DeleteParams{Store: model.StoreSemantic, Org: "org", IDs: []string{e.ID}, Restore: true})
	if n != 1 {
		t.Fatalf("expected restore of 1, got %d", n)
	}
	list, _ := s.List(ctx, ListParams{Store: model.StoreSemantic, Org: "org"})
	if len(list) != 1 {
		t.Errorf("expected restored entry listed, got %d", len(list))
	}
}

func TestSupersede(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := insertSemantic(t, s, "Go", "Go is a language", "")

	out, err := s.Supersede(ctx, SupersedeParams{
		Store:  model.StoreSemantic,
		Org:    "org",
		OldIDs: []string{old.ID},
		New: []InsertParams{{
			Fields:    map[string]string{"name": "Go", "summary": "Go is a compiled language"},
			CreatedAt: old.CreatedAt,
		}},
	})
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if len(out) != 1 || out[0].ID == old.ID {
		t.Fatalf("expected a new row, got %+v", out)
	}
	if !out[0].CreatedAt.Equal(old.CreatedAt) {
		t.Error("expected created_at carried over")
	}

	live, _ := s.List(ctx, ListParams{Store: model.StoreSemantic, Org: "org"})
	if len(live) != 1 || live[0].ID != out[0].ID {
		t.Fatalf("expected only the new row live, got %d", len(live))
	}

	lineage, err := s.Lineage(ctx, out[0].ID)
	if err != nil || len(lineage) != 1 || lineage[0] != old.ID {
		t.Errorf("expected lineage to old row, got %v %v", lineage, err)
	}

	// Superseding an already-deleted row fails and writes nothing.
	_, err = s.Supersede(ctx, SupersedeParams{
		Store:  model.StoreSemantic,
		Org:    "org",
		OldIDs: []string{old.ID},
		New:    []InsertParams{{Fields: map[string]string{"name": "Go", "summary": "dup"}}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	all, _ := s.List(ctx, ListParams{Store: model.StoreSemantic, Org: "org", IncludeDeleted: true})
	if len(all) != 2 {
		t.Errorf("expected 2 rows after failed supersede, got %d", len(all))
	}
}

func TestFindByIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Insert(ctx, InsertParams{
		Store: model.StoreProcedural,
		Org:   "org",
		Fields: map[string]string{
			"entry_type": "workflow", "description": "Deploy the App", "steps": "build\nship",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.FindByIdentity(ctx, IdentityParams{
		Store:  model.StoreProcedural,
		Org:    "org",
		Values: map[string]string{"entry_type": "WORKFLOW", "description": " deploy the app "},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 identity match, got %d", len(got))
	}
	if steps := got[0].List("steps"); len(steps) != 2 || steps[1] != "ship" {
		t.Errorf("unexpected steps %v", steps)
	}

	got, _ = s.FindByIdentity(ctx, IdentityParams{
		Store:  model.StoreProcedural,
		Org:    "org",
		Values: map[string]string{"entry_type": "guide", "description": "deploy the app"},
	})
	if len(got) != 0 {
		t.Errorf("expected no match for different entry_type, got %d", len(got))
	}
}

func TestListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, InsertParams{
			Store:     model.StoreSemantic,
			Org:       "org",
			Fields:    map[string]string{"name": name, "summary": "s"},
			CreatedAt: base.Add(time.Duration(i) * time.Nanosecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, ListParams{Store: model.StoreSemantic, Org: "org", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
	if list[0].Get("name") != "c" || list[1].Get("name") != "b" {
		t.Errorf("expected newest first, got %s, %s", list[0].Get("name"), list[1].Get("name"))
	}
}

func TestBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetBlock(ctx, "org", "human"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	b := &model.Block{OrganizationID: "org", Label: "human", Lines: []string{"Name is Sam"}, CharLimit: 100}
	if err := s.PutBlock(ctx, b); err != nil {
		t.Fatalf("put block: %v", err)
	}
	if b.ID == "" {
		t.Fatal("expected ID assigned")
	}

	b.Lines = append(b.Lines, "Likes sushi")
	b.Metadata = map[string]any{"truncated_lines": 2}
	if err := s.PutBlock(ctx, b); err != nil {
		t.Fatalf("update block: %v", err)
	}

	got, err := s.GetBlock(ctx, "org", "human")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Lines) != 2 || got.Lines[1] != "Likes sushi" {
		t.Errorf("unexpected lines %v", got.Lines)
	}
	if got.CharLimit != 100 || got.ID != b.ID {
		t.Errorf("unexpected block %+v", got)
	}
	if n, ok := got.Metadata["truncated_lines"].(float64); !ok || n != 2 {
		t.Errorf("unexpected metadata %v", got.Metadata)
	}

	s.PutBlock(ctx, &model.Block{OrganizationID: "org", Label: "persona", CharLimit: 100})
	blocks, _ := s.ListBlocks(ctx, "org")
	if len(blocks) != 2 || blocks[0].Label != "human" {
		t.Errorf("expected 2 blocks ordered by label, got %d", len(blocks))
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	keep := insertSemantic(t, src, "Go", "Go is a language", "")
	gone := insertSemantic(t, src, "Perl", "Perl is a language", "")
	src.SetDeleted(ctx, DeleteParams{Store: model.StoreSemantic, Org: "org", IDs: []string{gone.ID}})
	src.PutBlock(ctx, &model.Block{OrganizationID: "org", Label: "human", Lines: []string{"Likes tea"}, CharLimit: 50})
	src.Link(ctx, model.Link{FromID: keep.ID, ToID: gone.ID, Rel: model.RelRelatesTo})

	dump, err := src.ExportAll(ctx, "org")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(dump.Entries) != 2 || len(dump.Blocks) != 1 || len(dump.Links) != 1 {
		t.Fatalf("unexpected dump sizes: %d entries, %d blocks, %d links",
			len(dump.Entries), len(dump.Blocks), len(dump.Links))
	}

	dst := newTestStore(t)
	n, err := dst.Import(ctx, dump)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 imported rows, got %d", n)
	}

	got, err := dst.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "org", ID: gone.ID, IncludeDeleted: true})
	if err != nil || !got.IsDeleted {
		t.Errorf("expected deleted row preserved, got %v %v", got, err)
	}

	hits, err := dst.Match(ctx, MatchParams{Store: model.StoreSemantic, Org: "org", Match: `"language"`})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Entry.ID != keep.ID {
		t.Errorf("expected imported rows indexed, got %d hits", len(hits))
	}

	// Importing twice replaces rather than duplicates.
	if _, err := dst.Import(ctx, dump); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	all, _ := dst.List(ctx, ListParams{Store: model.StoreSemantic, Org: "org", IncludeDeleted: true})
	if len(all) != 2 {
		t.Errorf("expected 2 rows after re-import, got %d", len(all))
	}
	hits, _ = dst.Match(ctx, MatchParams{Store: model.StoreSemantic, Org: "org", Match: `"language"`})
	if len(hits) != 1 {
		t.Errorf("expected index in sync after re-import, got %d hits", len(hits))
	}
}

func TestRestoreReplacesOrganization(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	keep := insertSemantic(t, s, "Go", "Go is a language", "")
	s.PutBlock(ctx, &model.Block{OrganizationID: "org", Label: "human", Lines: []string{"Likes tea"}, CharLimit: 50})
	dump, err := s.ExportAll(ctx, "org")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	later := insertSemantic(t, s, "Rust", "Rust is a language", "")
	s.Link(ctx, model.Link{FromID: keep.ID, ToID: later.ID, Rel: model.RelRelatesTo})
	s.PutBlock(ctx, &model.Block{OrganizationID: "org", Label: "human", Lines: []string{"Likes tea", "Lives in Berlin"}, CharLimit: 50})
	s.PutBlock(ctx, &model.Block{OrganizationID: "org", Label: "scratch", Lines: []string{"temp"}, CharLimit: 50})
	other, err := s.Insert(ctx, InsertParams{
		Store: model.StoreSemantic, Org: "other",
		Fields: map[string]string{"name": "Zig", "summary": "Zig is a language"},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.Restore(ctx, "org", dump)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 restored rows, got %d", n)
	}

	if _, err := s.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "org", ID: later.ID, IncludeDeleted: true}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected row written after export to be gone, got %v", err)
	}
	hits, _ := s.Match(ctx, MatchParams{Store: model.StoreSemantic, Org: "org", Match: `"language"`})
	if len(hits) != 1 || hits[0].Entry.ID != keep.ID {
		t.Errorf("expected FTS index to hold only the restored row, got %d hits", len(hits))
	}
	links, _ := s.GetLinks(ctx, keep.ID)
	if len(links) != 0 {
		t.Errorf("expected links to removed rows cleared, got %v", links)
	}

	blocks, _ := s.ListBlocks(ctx, "org")
	if len(blocks) != 1 || len(blocks[0].Lines) != 1 || blocks[0].Lines[0] != "Likes tea" {
		t.Errorf("expected core blocks as exported, got %+v", blocks)
	}

	if _, err := s.Get(ctx, GetParams{Store: model.StoreSemantic, Org: "other", ID: other.ID}); err != nil {
		t.Errorf("expected other organization untouched, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertSemantic(t, s, "Go", "Go is a language", "")
	e := insertSemantic(t, s, "C", "C is old", "")
	s.SetDeleted(ctx, DeleteParams{Store: model.StoreSemantic, Org: "org", IDs: []string{e.ID}})

	st, err := s.Stats(ctx, "org")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 2 || st.Active != 1 {
		t.Errorf("expected 2 total / 1 active, got %d / %d", st.Total, st.Active)
	}
	if len(st.Stores) != len(model.AllStores) {
		t.Errorf("expected a row per store, got %d", len(st.Stores))
	}
}
