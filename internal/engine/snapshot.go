package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rcliao/memoria/internal/config"
	"github.com/rcliao/memoria/internal/memory"
	"github.com/rcliao/memoria/internal/store"
)

// SnapshotVersion is the memory.json format written by SaveSnapshot.
const SnapshotVersion = 1

const (
	snapshotMemory = "memory.json"
	snapshotConfig = "config.yaml"
)

// snapshotFile is the memory.json document.
type snapshotFile struct {
	FormatVersion  int       `json:"format_version"`
	OrganizationID string    `json:"organization_id"`
	SavedAt        time.Time `json:"saved_at"`
	store.Dump
}

// SnapshotInfo describes a saved or loaded snapshot.
type SnapshotInfo struct {
	Dir            string    `json:"dir"`
	FormatVersion  int       `json:"format_version"`
	OrganizationID string    `json:"organization_id"`
	SavedAt        time.Time `json:"saved_at"`
	Entries        int       `json:"entries"`
	Blocks         int       `json:"blocks"`
	Links          int       `json:"links"`
	Reindexed      int       `json:"reindexed,omitempty"`
	// ConfigWritten is the config file the snapshot's settings were saved to.
	ConfigWritten string         `json:"config_written,omitempty"`
	Config        *config.Config `json:"-"`
}

// SaveSnapshot writes every row of all six stores, deleted rows and links
// included, to dir/memory.json and the effective configuration to
// dir/config.yaml.
func (e *Engine) SaveSnapshot(ctx context.Context, dir string) (*SnapshotInfo, error) {
	org := e.deps.Config.Org
	dump, err := e.deps.Store.ExportAll(ctx, org)
	if err != nil {
		return nil, &memory.Error{Op: "save snapshot", Kind: memory.KindPersistence, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	doc := snapshotFile{
		FormatVersion:  SnapshotVersion,
		OrganizationID: org,
		SavedAt:        time.Now().UTC(),
		Dump:           *dump,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotMemory), data, 0o600); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := e.deps.Config.Save(filepath.Join(dir, snapshotConfig)); err != nil {
		return nil, err
	}

	e.log.Info("snapshot saved", "dir", dir, "entries", len(dump.Entries), "blocks", len(dump.Blocks))
	return &SnapshotInfo{
		Dir:            dir,
		FormatVersion:  SnapshotVersion,
		OrganizationID: org,
		SavedAt:        doc.SavedAt,
		Entries:        len(dump.Entries),
		Blocks:         len(dump.Blocks),
		Links:          len(dump.Links),
		Config:         e.deps.Config,
	}, nil
}

// LoadSnapshot restores a snapshot written by SaveSnapshot. Everything the
// organization holds is replaced: rows keep their IDs, timestamps and
// deletion flags, and rows written after the save are gone. The snapshot's
// settings become the engine's configuration, keeping the current database,
// vector directory and credentials, and are written to the config file the
// engine was loaded from. The vector index is rebuilt afterwards.
//
// LoadSnapshot must not run concurrently with other engine operations.
func (e *Engine) LoadSnapshot(ctx context.Context, dir string) (*SnapshotInfo, error) {
	const op = "load snapshot"
	data, err := os.ReadFile(filepath.Join(dir, snapshotMemory))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &memory.Error{Op: op, Kind: memory.KindNotFound, Err: err}
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var doc snapshotFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &memory.Error{Op: op, Kind: memory.KindValidation, Err: fmt.Errorf("decode memory.json: %w", err)}
	}
	if doc.FormatVersion != SnapshotVersion {
		return nil, &memory.Error{Op: op, Kind: memory.KindValidation,
			Err: fmt.Errorf("unsupported format version %d", doc.FormatVersion)}
	}
	cur := e.deps.Config
	if doc.OrganizationID != cur.Org {
		return nil, &memory.Error{Op: op, Kind: memory.KindValidation,
			Err: fmt.Errorf("snapshot belongs to organization %q, engine serves %q", doc.OrganizationID, cur.Org)}
	}

	snapCfg, err := config.ReadFile(filepath.Join(dir, snapshotConfig))
	if err != nil {
		return nil, &memory.Error{Op: op, Kind: memory.KindValidation, Err: err}
	}

	if _, err := e.deps.Store.Restore(ctx, cur.Org, &doc.Dump); err != nil {
		return nil, &memory.Error{Op: op, Kind: memory.KindPersistence, Err: err}
	}
	e.deps.Core.Reset()

	applied := *snapCfg
	applied.DB, applied.Org, applied.VectorDir, applied.Path = cur.DB, cur.Org, cur.VectorDir, cur.Path
	applied.LLM.APIKey, applied.Embed.APIKey = cur.LLM.APIKey, cur.Embed.APIKey
	e.deps.Config = &applied

	info := &SnapshotInfo{
		Dir:            dir,
		FormatVersion:  doc.FormatVersion,
		OrganizationID: doc.OrganizationID,
		SavedAt:        doc.SavedAt,
		Entries:        len(doc.Entries),
		Blocks:         len(doc.Blocks),
		Links:          len(doc.Links),
		Config:         &applied,
	}
	if cur.Path != "" {
		if err := writeRestoredConfig(snapCfg, cur.Path); err != nil {
			return info, &memory.Error{Op: op, Kind: memory.KindPersistence, Err: err}
		}
		info.ConfigWritten = cur.Path
	}

	n, err := e.Reindex(ctx)
	info.Reindexed = n
	if err != nil {
		e.log.Warn("reindex after snapshot load failed", "error", err)
	}
	e.log.Info("snapshot loaded", "dir", dir, "entries", info.Entries, "blocks", info.Blocks, "reindexed", n)
	return info, nil
}

// writeRestoredConfig saves the snapshot's settings to path, keeping the
// database and vector locations already on disk there.
func writeRestoredConfig(snap *config.Config, path string) error {
	out := *snap
	onDisk, err := config.ReadFile(path)
	if err != nil {
		onDisk = config.Default()
	}
	out.DB, out.VectorDir = onDisk.DB, onDisk.VectorDir
	return out.Save(path)
}
