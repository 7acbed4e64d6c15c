// Package engine wires the memory system together: the absorption pipeline
// from captured frames to the stores, and the query surface served back to
// the assistant.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rcliao/memoria/internal/buffer"
	"github.com/rcliao/memoria/internal/config"
	"github.com/rcliao/memoria/internal/embedding"
	"github.com/rcliao/memoria/internal/llm"
	"github.com/rcliao/memoria/internal/memory"
	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/retrieval"
	"github.com/rcliao/memoria/internal/router"
	"github.com/rcliao/memoria/internal/search"
	"github.com/rcliao/memoria/internal/store"
	"github.com/rcliao/memoria/internal/telemetry"
)

// Deps is everything the engine runs on. Open builds it from configuration;
// tests assemble it directly.
type Deps struct {
	Config    *config.Config
	Store     *store.SQLiteStore
	Managers  map[model.StoreName]*memory.Manager
	Core      *memory.CoreManager
	Router    *router.Router
	Buffer    buffer.Buffer
	Retrieval *retrieval.Orchestrator
	// Vectors and Embedder are nil when no embedder is configured.
	Vectors   *search.VectorIndex
	Embedder  embedding.Embedder
	Telemetry *telemetry.Telemetry
}

// Engine is the memory system facade.
type Engine struct {
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	recent []model.Turn
}

// New creates an engine over assembled dependencies.
func New(d Deps) (*Engine, error) {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if d.Core == nil {
		return nil, errors.New("engine: core manager is required")
	}
	if d.Router == nil {
		return nil, errors.New("engine: router is required")
	}
	if d.Retrieval == nil {
		return nil, errors.New("engine: retrieval orchestrator is required")
	}
	if d.Buffer == nil {
		d.Buffer = buffer.NewMemory()
	}
	if d.Telemetry == nil {
		d.Telemetry = telemetry.Nop()
	}
	return &Engine{
		deps: d,
		log:  telemetry.Component(d.Telemetry.Logger, "engine"),
	}, nil
}

// Open builds the full dependency graph from configuration. Missing LLM or
// embedding providers degrade the system instead of failing it: routing is
// skipped and embedding search falls back to string matching.
func Open(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*Engine, error) {
	if tel == nil {
		tel = telemetry.New(os.Stderr, cfg.TelemetryOptions())
	}
	log := telemetry.Component(tel.Logger, "engine")

	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var emb embedding.Embedder
	ok := false
	defer func() {
		if !ok {
			closeEmbedder(emb)
			st.Close()
		}
	}()

	emb, err = embedding.New(cfg.EmbedOptions())
	switch {
	case errors.Is(err, embedding.ErrUnavailable):
		log.Info("no embedder configured, embedding search falls back to string match")
		emb = nil
	case err != nil:
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	gen, err := llm.New(cfg.LLMOptions())
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		log.Info("no generator configured, absorption and core compaction are limited", "reason", err)
		gen = nil
	case err != nil:
		return nil, fmt.Errorf("create generator: %w", err)
	}

	var buf buffer.Buffer
	if cfg.Buffer.RedisURL != "" {
		rb, err := buffer.NewRedis(buffer.RedisOptions{URL: cfg.Buffer.RedisURL, Key: cfg.Buffer.RedisKey})
		if err != nil {
			return nil, err
		}
		buf = rb
	}

	e, err := assemble(ctx, cfg, st, gen, emb, buf, tel)
	if err != nil {
		if buf != nil {
			buf.Close()
		}
		return nil, err
	}
	ok = true
	return e, nil
}

// assemble builds managers, router and orchestrator around the given
// collaborators. gen, emb and buf may be nil.
func assemble(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, gen llm.Generator,
	emb embedding.Embedder, buf buffer.Buffer, tel *telemetry.Telemetry) (*Engine, error) {
	d := Deps{Config: cfg, Store: st, Buffer: buf, Telemetry: tel}
	if emb != nil {
		d.Embedder = emb
		vi, err := search.NewVectorIndex(cfg.VectorDir, emb)
		if err != nil {
			return nil, err
		}
		d.Vectors = vi
	}

	clock := memory.NewClock(nil)
	d.Managers = make(map[model.StoreName]*memory.Manager, len(model.Schemas))
	for _, name := range model.AllStores {
		if name == model.StoreCore {
			continue
		}
		m, err := memory.New(st, name, memory.Config{
			Org: cfg.Org, Vectors: d.Vectors, Logger: tel.Logger, Clock: clock,
		})
		if err != nil {
			return nil, err
		}
		d.Managers[name] = m
	}

	var rw memory.Rewriter
	if gen != nil {
		rw = memory.GeneratorRewriter{Gen: gen}
	}
	d.Core = memory.NewCore(st, memory.CoreConfig{
		Org:       cfg.Org,
		CharLimit: cfg.Core.CharLimit,
		Labels:    cfg.Core.Labels,
		Rewriter:  rw,
		Logger:    tel.Logger,
		Clock:     clock,
	})
	if err := d.Core.EnsureBlocks(ctx); err != nil {
		return nil, err
	}

	d.Router = router.New(gen, router.Options{CoreLabels: cfg.Core.Labels, Logger: tel.Logger})

	var err error
	d.Retrieval, err = retrieval.New(StoreManagers(d), retrieval.Options{
		Logger: tel.Logger,
		Tracer: tel.Tracer,
		Meter:  tel.Meter,
	})
	if err != nil {
		return nil, err
	}
	return New(d)
}

// StoreManagers lists the core manager and every store manager in store order.
func StoreManagers(d Deps) []memory.StoreManager {
	out := make([]memory.StoreManager, 0, len(d.Managers)+1)
	for _, name := range model.AllStores {
		if name == model.StoreCore {
			if d.Core != nil {
				out = append(out, d.Core)
			}
			continue
		}
		if m, ok := d.Managers[name]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Deps exposes the engine's dependencies.
func (e *Engine) Deps() Deps { return e.deps }

// Config returns the effective configuration.
func (e *Engine) Config() *config.Config { return e.deps.Config }

// Core returns the core memory manager.
func (e *Engine) Core() *memory.CoreManager { return e.deps.Core }

// Manager returns the manager for a non-core store.
func (e *Engine) Manager(name model.StoreName) (*memory.Manager, error) {
	m, ok := e.deps.Managers[name]
	if !ok {
		return nil, &memory.Error{Op: "manager", Kind: memory.KindValidation, Store: name, Err: errors.New("store not configured")}
	}
	return m, nil
}

// Close releases the buffer, embedder cache, store and telemetry.
func (e *Engine) Close() error {
	closeEmbedder(e.deps.Embedder)
	var errs []error
	if err := e.deps.Buffer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close buffer: %w", err))
	}
	if err := e.deps.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := e.deps.Telemetry.Shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// closeEmbedder stops the background work of embedders that have any.
func closeEmbedder(emb embedding.Embedder) {
	if c, ok := emb.(interface{ Close() }); ok {
		c.Close()
	}
}

// SearchMemory runs a cross-store query.
func (e *Engine) SearchMemory(ctx context.Context, q retrieval.Query) (*retrieval.Result, error) {
	if q.PerStore <= 0 {
		q.PerStore = e.deps.Config.Retrieval.PerStore
	}
	if q.Limit <= 0 {
		q.Limit = e.deps.Config.Retrieval.Limit
	}
	return e.deps.Retrieval.Search(ctx, q)
}

// Context assembles a token-budgeted memory block for the assistant.
func (e *Engine) Context(ctx context.Context, p retrieval.ContextParams) (*retrieval.ContextResult, error) {
	if p.Budget <= 0 {
		p.Budget = e.deps.Config.Retrieval.ContextBudget
	}
	return e.deps.Retrieval.Context(ctx, p)
}

// Stats returns per-store counts.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.deps.Store.Stats(ctx, e.deps.Config.Org)
}

// Reflect reports duplicate and similar entries in every non-core store.
func (e *Engine) Reflect(ctx context.Context) ([]*memory.RedundancyReport, error) {
	var out []*memory.RedundancyReport
	for _, name := range model.AllStores {
		m, ok := e.deps.Managers[name]
		if !ok {
			continue
		}
		r, err := m.Redundancy(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Reindex rebuilds the vector index for every non-core store.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	if !e.deps.Vectors.Available() {
		return 0, nil
	}
	total := 0
	for _, name := range model.AllStores {
		m, ok := e.deps.Managers[name]
		if !ok {
			continue
		}
		n, err := m.Reindex(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
