// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/memoria/internal/model"
)

// ErrNotFound is returned when a row does not exist (or is soft-deleted where that matters).
var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC layout used for every stored timestamp,
// so lexical order in SQL equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// InsertParams holds parameters for writing a new entry row.
type InsertParams struct {
	Store     model.StoreName
	Org       string
	Fields    map[string]string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SupersedeParams soft-deletes OldIDs and inserts New in one transaction.
// Every new row gets a supersedes link to every old row.
type SupersedeParams struct {
	Store  model.StoreName
	Org    string
	OldIDs []string
	New    []InsertParams
	At     time.Time
}

// GetParams holds parameters for retrieving an entry.
type GetParams struct {
	Store          model.StoreName
	Org            string
	ID             string
	IncludeDeleted bool
}

// ListParams holds parameters for listing entries.
type ListParams struct {
	Store          model.StoreName
	Org            string
	Limit          int // 0 means no limit
	IncludeDeleted bool
}

// IdentityParams looks up live entries whose identity fields equal Values, ignoring case.
type IdentityParams struct {
	Store  model.StoreName
	Org    string
	Values map[string]string
}

// DeleteParams flips the soft-delete flag on a set of entries.
type DeleteParams struct {
	Store   model.StoreName
	Org     string
	IDs     []string
	Restore bool
	At      time.Time
}

// MatchParams runs an FTS5 MATCH expression against a store's index.
type MatchParams struct {
	Store model.StoreName
	Org   string
	Match string
	Limit int
}

// LikeParams selects live entries containing Query in any of Fields (case-insensitive).
type LikeParams struct {
	Store  model.StoreName
	Org    string
	Query  string
	Fields []string
	Limit  int
}

// Hit is an entry with its raw lexical score (-bm25, higher is better).
type Hit struct {
	Entry model.Entry
	Score float64
}

// Store defines the memory storage interface used by the managers.
type Store interface {
	Insert(ctx context.Context, p InsertParams) (*model.Entry, error)
	Supersede(ctx context.Context, p SupersedeParams) ([]model.Entry, error)
	Get(ctx context.Context, p GetParams) (*model.Entry, error)
	GetMany(ctx context.Context, store model.StoreName, org string, ids []string) ([]model.Entry, error)
	List(ctx context.Context, p ListParams) ([]model.Entry, error)
	FindByIdentity(ctx context.Context, p IdentityParams) ([]model.Entry, error)
	SetDeleted(ctx context.Context, p DeleteParams) (int, error)
	Match(ctx context.Context, p MatchParams) ([]Hit, error)
	Like(ctx context.Context, p LikeParams) ([]model.Entry, error)

	GetBlock(ctx context.Context, org, label string) (*model.Block, error)
	PutBlock(ctx context.Context, b *model.Block) error
	ListBlocks(ctx context.Context, org string) ([]model.Block, error)

	Close() error
}
