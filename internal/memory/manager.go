// Package memory implements the per-store memory managers: validation,
// duplicate consolidation, replacement, soft deletion and multi-method
// search over a store, plus the capacity-bounded core memory blocks.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
	"github.com/rcliao/memoria/internal/store"
	"github.com/rcliao/memoria/internal/telemetry"
)

// StoreManager is the surface shared by every store's manager.
type StoreManager interface {
	Store() model.StoreName
	InsertOrMerge(ctx context.Context, cands []model.Candidate) (*BatchResult, error)
	Search(ctx context.Context, p SearchParams) ([]search.Result, error)
}

// Outcome is what happened to one candidate.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeMerged    Outcome = "merged"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRejected  Outcome = "rejected"
)

// ItemResult reports one candidate of a batch, by position.
type ItemResult struct {
	Index   int          `json:"index"`
	Outcome Outcome      `json:"outcome"`
	Entry   *model.Entry `json:"entry,omitempty"`
	// Superseded is the ID of the row a merge replaced.
	Superseded string `json:"superseded,omitempty"`
	Err        error  `json:"-"`
}

// BatchResult collects the per-candidate outcomes of InsertOrMerge.
type BatchResult struct {
	Store model.StoreName `json:"store"`
	Items []ItemResult    `json:"items"`
}

// Count returns how many candidates had the given outcome.
func (b *BatchResult) Count(o Outcome) int {
	n := 0
	for _, it := range b.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Written is the number of candidates that changed the store.
func (b *BatchResult) Written() int {
	return b.Count(OutcomeInserted) + b.Count(OutcomeMerged)
}

// Config holds the collaborators of a manager.
type Config struct {
	Org string
	// Vectors is optional; without it embedding search falls back to string_match.
	Vectors *search.VectorIndex
	Logger  *slog.Logger
	Clock   *Clock
}

// Manager owns one schema-described store. Writes are serialised; reads are not.
type Manager struct {
	schema  *model.Schema
	store   store.Store
	vectors *search.VectorIndex
	org     string
	log     *slog.Logger
	clock   *Clock

	mu sync.Mutex
}

// New creates the manager for an entry store.
func New(st store.Store, name model.StoreName, cfg Config) (*Manager, error) {
	sc, err := model.SchemaFor(name)
	if err != nil {
		return nil, newError("new manager", KindValidation, name, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock(nil)
	}
	return &Manager{
		schema:  sc,
		store:   st,
		vectors: cfg.Vectors,
		org:     cfg.Org,
		log:     telemetry.Component(cfg.Logger, "memory").With("store", string(name)),
		clock:   cfg.Clock,
	}, nil
}

// Store returns the managed store's name.
func (m *Manager) Store() model.StoreName { return m.schema.Store }

// Schema returns the managed store's descriptor.
func (m *Manager) Schema() *model.Schema { return m.schema }

// vectorOp is an index update deferred until the writer lock is released,
// since embedding may call out to a remote provider.
type vectorOp struct {
	remove []string
	add    *model.Entry
}

// InsertOrMerge applies candidates in order. Each one is validated, matched
// against existing entries and then inserted, merged into its duplicate, or
// left alone when the merge would change nothing. A rejected candidate does
// not stop the rest. On cancellation the results so far are returned with
// the context error; committed writes stay.
func (m *Manager) InsertOrMerge(ctx context.Context, cands []model.Candidate) (*BatchResult, error) {
	out := &BatchResult{Store: m.schema.Store}
	var ops []vectorOp
	defer func() { m.applyVectors(ctx, ops) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		item, op := m.apply(ctx, i, c)
		if item.Err != nil {
			m.log.Warn("candidate rejected", "index", i, "error", item.Err)
		}
		out.Items = append(out.Items, item)
		if op != nil {
			ops = append(ops, *op)
		}
	}
	return out, nil
}

func (m *Manager) apply(ctx context.Context, i int, c model.Candidate) (ItemResult, *vectorOp) {
	const op = "insert"
	res := ItemResult{Index: i, Outcome: OutcomeRejected}
	now := m.clock.Now()

	fields, err := normalize(m.schema, c, now)
	if err != nil {
		res.Err = err
		return res, nil
	}

	var dup *model.Entry
	if !m.schema.AppendOnly {
		if dup, err = m.findDuplicate(ctx, fields); err != nil {
			res.Err = newError(op, KindPersistence, m.schema.Store, err)
			return res, nil
		}
	}

	if dup == nil {
		e, err := m.store.Insert(ctx, store.InsertParams{
			Store:     m.schema.Store,
			Org:       m.org,
			Fields:    fields,
			Metadata:  c.Metadata,
			CreatedAt: now,
		})
		if err != nil {
			res.Err = newError(op, KindPersistence, m.schema.Store, err)
			return res, nil
		}
		res.Outcome, res.Entry = OutcomeInserted, e
		return res, &vectorOp{add: e}
	}

	merged := mergeFields(m.schema, dup.Fields, fields)
	if sameFields(merged, dup.Fields) {
		res.Outcome, res.Entry = OutcomeUnchanged, dup
		return res, nil
	}

	meta := make(map[string]any, len(dup.Metadata)+len(c.Metadata)+1)
	for k, v := range dup.Metadata {
		meta[k] = v
	}
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["supersedes"] = dup.ID

	written, err := m.store.Supersede(ctx, store.SupersedeParams{
		Store:  m.schema.Store,
		Org:    m.org,
		OldIDs: []string{dup.ID},
		New: []store.InsertParams{{
			Store:     m.schema.Store,
			Fields:    merged,
			Metadata:  meta,
			CreatedAt: dup.CreatedAt,
			UpdatedAt: now,
		}},
		At: now,
	})
	if err != nil {
		res.Err = m.storeError("merge", err)
		return res, nil
	}
	e := written[0]
	res.Outcome, res.Entry, res.Superseded = OutcomeMerged, &e, dup.ID
	return res, &vectorOp{remove: []string{dup.ID}, add: &e}
}

// findDuplicate returns the live entry a candidate should merge into: an
// exact identity match if there is one, else the most similar lexical hit
// whose key text is a near duplicate.
func (m *Manager) findDuplicate(ctx context.Context, fields map[string]string) (*model.Entry, error) {
	values := make(map[string]string, len(m.schema.Identity))
	complete := len(m.schema.Identity) > 0
	for _, name := range m.schema.Identity {
		if fields[name] == "" {
			complete = false
		}
		values[name] = fields[name]
	}
	if complete {
		found, err := m.store.FindByIdentity(ctx, store.IdentityParams{
			Store: m.schema.Store, Org: m.org, Values: values,
		})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return &found[0], nil
		}
	}

	key := keyText(m.schema, fields)
	tokens := search.Tokenize(key)
	if len(tokens) == 0 {
		return nil, nil
	}
	hits, err := m.store.Match(ctx, store.MatchParams{
		Store: m.schema.Store,
		Org:   m.org,
		Match: search.BuildMatch(tokens, "", search.Or),
		Limit: 20,
	})
	if err != nil {
		return nil, err
	}
	var best *model.Entry
	bestSim := 0.0
	for i := range hits {
		sim := Jaccard(key, keyText(m.schema, hits[i].Entry.Fields))
		if sim >= DuplicateThreshold && sim > bestSim {
			best, bestSim = &hits[i].Entry, sim
		}
	}
	return best, nil
}

// Replace soft-deletes oldIDs and inserts the candidates in one transaction.
// Nothing is written unless every candidate is valid and every old ID is live.
func (m *Manager) Replace(ctx context.Context, oldIDs []string, cands []model.Candidate) ([]model.Entry, error) {
	const op = "replace"
	now := m.clock.Now()
	params := make([]store.InsertParams, 0, len(cands))
	for i, c := range cands {
		fields, err := normalize(m.schema, c, now)
		if err != nil {
			return nil, newError(op, KindValidation, m.schema.Store, fmt.Errorf("candidate %d: %w", i, err))
		}
		params = append(params, store.InsertParams{
			Store: m.schema.Store, Fields: fields, Metadata: c.Metadata, CreatedAt: now,
		})
	}

	m.mu.Lock()
	written, err := m.store.Supersede(ctx, store.SupersedeParams{
		Store:  m.schema.Store,
		Org:    m.org,
		OldIDs: oldIDs,
		New:    params,
		At:     now,
	})
	m.mu.Unlock()
	if err != nil {
		return nil, m.storeError(op, err)
	}

	ops := []vectorOp{{remove: oldIDs}}
	for i := range written {
		ops = append(ops, vectorOp{add: &written[i]})
	}
	m.applyVectors(ctx, ops)
	return written, nil
}

// Delete soft-deletes entries and reports how many were live.
func (m *Manager) Delete(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	n, err := m.store.SetDeleted(ctx, store.DeleteParams{
		Store: m.schema.Store, Org: m.org, IDs: ids, At: m.clock.Now(),
	})
	m.mu.Unlock()
	if err != nil {
		return 0, m.storeError("delete", err)
	}
	m.applyVectors(ctx, []vectorOp{{remove: ids}})
	return n, nil
}

// Restore undeletes entries and reports how many were deleted.
func (m *Manager) Restore(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	n, err := m.store.SetDeleted(ctx, store.DeleteParams{
		Store: m.schema.Store, Org: m.org, IDs: ids, Restore: true, At: m.clock.Now(),
	})
	m.mu.Unlock()
	if err != nil {
		return 0, m.storeError("restore", err)
	}
	entries, err := m.store.GetMany(ctx, m.schema.Store, m.org, ids)
	if err != nil {
		return n, m.storeError("restore", err)
	}
	ops := make([]vectorOp, 0, len(entries))
	for i := range entries {
		ops = append(ops, vectorOp{add: &entries[i]})
	}
	m.applyVectors(ctx, ops)
	return n, nil
}

// Get returns one entry; deleted entries only when includeDeleted is set.
func (m *Manager) Get(ctx context.Context, id string, includeDeleted bool) (*model.Entry, error) {
	e, err := m.store.Get(ctx, store.GetParams{
		Store: m.schema.Store, Org: m.org, ID: id, IncludeDeleted: includeDeleted,
	})
	if err != nil {
		return nil, m.storeError("get", err)
	}
	return e, nil
}

// List returns entries, most recently updated first. Zero limit means all.
func (m *Manager) List(ctx context.Context, limit int, includeDeleted bool) ([]model.Entry, error) {
	entries, err := m.store.List(ctx, store.ListParams{
		Store: m.schema.Store, Org: m.org, Limit: limit, IncludeDeleted: includeDeleted,
	})
	if err != nil {
		return nil, m.storeError("list", err)
	}
	return entries, nil
}

// Reindex rebuilds the store's vector collection from its live entries.
func (m *Manager) Reindex(ctx context.Context) (int, error) {
	const op = "reindex"
	if !m.vectors.Available() {
		return 0, errorf(op, KindExternal, m.schema.Store, "no embedder configured")
	}
	if err := m.vectors.Reset(m.schema.Store); err != nil {
		return 0, newError(op, KindExternal, m.schema.Store, err)
	}
	entries, err := m.List(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	fields := m.schema.EmbeddedFields()
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := m.vectors.Index(ctx, e, fields); err != nil {
			return i, newError(op, KindExternal, m.schema.Store, err)
		}
	}
	return len(entries), nil
}

// applyVectors keeps the vector index in step with committed writes. The
// index is derived data, so failures are logged and the write stands.
func (m *Manager) applyVectors(ctx context.Context, ops []vectorOp) {
	if !m.vectors.Available() || len(ops) == 0 {
		return
	}
	fields := m.schema.EmbeddedFields()
	for _, op := range ops {
		if len(op.remove) > 0 {
			if err := m.vectors.Remove(ctx, m.schema.Store, op.remove); err != nil {
				m.log.Warn("remove vectors", "ids", op.remove, "error", err)
			}
		}
		if op.add != nil {
			if err := m.vectors.Index(ctx, *op.add, fields); err != nil {
				m.log.Warn("index vectors", "id", op.add.ID, "error", err)
			}
		}
	}
}

func (m *Manager) storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(op, KindNotFound, m.schema.Store, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return newError(op, KindPersistence, m.schema.Store, err)
}
