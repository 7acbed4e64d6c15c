// Package retrieval fans a query out to every memory store concurrently and
// merges the per-store rankings into one provenance-tagged result.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/rcliao/memoria/internal/memory"
	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
	"github.com/rcliao/memoria/internal/telemetry"
)

// Redacted replaces secret values the caller may not see.
const Redacted = memory.Redacted

// Defaults for Query limits.
const (
	DefaultPerStore = 10
	DefaultLimit    = 20
)

// Query is a cross-store search request.
type Query struct {
	Text   string
	Method search.Method
	// Field restricts matching to one field; only stores having it are searched.
	Field string
	// Stores limits the fan-out; empty means every store.
	Stores []model.StoreName
	// PerStore caps each store's ranking before merging.
	PerStore int
	// Limit caps the merged ranking.
	Limit int
	// Authorized reveals high-sensitivity vault secrets.
	Authorized bool
}

// Hit is one entry in the merged ranking.
type Hit struct {
	Store model.StoreName `json:"store"`
	Entry model.Entry     `json:"entry"`
	// Score is normalised by the store's best score so stores are comparable.
	Score    float64 `json:"score"`
	RawScore float64 `json:"raw_score"`
	Field    string  `json:"field,omitempty"`
	Redacted bool    `json:"redacted,omitempty"`
}

// Group is one store's ranking, kept for provenance.
type Group struct {
	Store model.StoreName `json:"store"`
	Hits  []Hit           `json:"hits"`
	Err   error           `json:"-"`
	Error string          `json:"error,omitempty"`
}

// Result holds the per-store groups and the merged ranking.
type Result struct {
	Query  string  `json:"query"`
	Method string  `json:"method"`
	Groups []Group `json:"groups"`
	Hits   []Hit   `json:"hits"`
}

// Options configures an Orchestrator.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	// Counter measures context size; nil uses tiktoken with a chars/4 fallback.
	Counter TokenCounter
}

// Orchestrator searches many stores at once. A failing store never affects
// the others; an error is returned only when every store failed.
type Orchestrator struct {
	managers map[model.StoreName]memory.StoreManager
	order    []model.StoreName
	log      *slog.Logger
	tracer   trace.Tracer
	counter  TokenCounter

	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an orchestrator over the given managers.
func New(managers []memory.StoreManager, opts Options) (*Orchestrator, error) {
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("retrieval")
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("retrieval")
	}
	if opts.Counter == nil {
		opts.Counter = DefaultCounter()
	}

	o := &Orchestrator{
		managers: make(map[model.StoreName]memory.StoreManager, len(managers)),
		log:      telemetry.Component(opts.Logger, "retrieval"),
		tracer:   opts.Tracer,
		counter:  opts.Counter,
	}
	for _, m := range managers {
		o.managers[m.Store()] = m
	}
	for _, name := range model.AllStores {
		if _, ok := o.managers[name]; ok {
			o.order = append(o.order, name)
		}
	}

	var err error
	o.failures, err = opts.Meter.Int64Counter(
		"retrieval.store_failures",
		metric.WithDescription("Per-store search failures"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	o.duration, err = opts.Meter.Float64Histogram(
		"retrieval.duration",
		metric.WithDescription("Cross-store search duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return o, nil
}

// targets resolves which stores a query fans out to.
func (o *Orchestrator) targets(q Query) ([]model.StoreName, error) {
	names := q.Stores
	if len(names) == 0 {
		names = o.order
	}
	var out []model.StoreName
	for _, name := range names {
		if _, ok := o.managers[name]; !ok {
			return nil, &memory.Error{Op: "search", Kind: memory.KindValidation, Store: name, Err: errors.New("store not configured")}
		}
		if q.Field != "" && len(q.Stores) == 0 {
			if _, ok := schemaOf(name).Field(q.Field); !ok {
				continue
			}
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, &memory.Error{Op: "search", Kind: memory.KindValidation, Err: fmt.Errorf("no store has field %q", q.Field)}
	}
	return out, nil
}

// Search runs the query against each target store concurrently.
func (o *Orchestrator) Search(ctx context.Context, q Query) (*Result, error) {
	if q.Method == "" {
		q.Method = search.MethodLexical
	}
	if q.PerStore <= 0 {
		q.PerStore = DefaultPerStore
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	names, err := o.targets(q)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.String("method", string(q.Method)),
		attribute.Int("stores", len(names)),
	))
	defer span.End()

	groups := make([]Group, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name model.StoreName) {
			defer wg.Done()
			groups[i] = o.searchStore(ctx, name, q)
		}(i, name)
	}
	wg.Wait()

	res := &Result{Query: q.Text, Method: string(q.Method), Groups: groups}
	var errs []error
	for i := range groups {
		g := &groups[i]
		if g.Err != nil {
			g.Error = g.Err.Error()
			errs = append(errs, g.Err)
			span.AddEvent("store_failed", trace.WithAttributes(
				attribute.String("store", string(g.Store)),
				attribute.String("error", g.Error),
			))
			o.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("store", string(g.Store))))
			o.log.Warn("store search failed", "store", g.Store, "error", g.Err)
			continue
		}
		res.Hits = append(res.Hits, g.Hits...)
	}
	sortHits(res.Hits)
	if len(res.Hits) > q.Limit {
		res.Hits = res.Hits[:q.Limit]
	}

	o.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("method", string(q.Method))))
	span.SetAttributes(attribute.Int("hits", len(res.Hits)))

	if len(errs) == len(groups) {
		err := fmt.Errorf("all %d stores failed: %w", len(groups), errors.Join(errs...))
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

// searchStore runs one store's search and normalises its scores.
func (o *Orchestrator) searchStore(ctx context.Context, name model.StoreName, q Query) (g Group) {
	g.Store = name
	defer func() {
		if r := recover(); r != nil {
			g.Hits, g.Err = nil, fmt.Errorf("search %s panicked: %v", name, r)
		}
	}()

	rs, err := o.managers[name].Search(ctx, memory.SearchParams{
		Query:  q.Text,
		Method: q.Method,
		Field:  q.Field,
		Limit:  q.PerStore,
	})
	if err != nil {
		g.Err = err
		return g
	}

	best := 0.0
	for _, r := range rs {
		if r.Score > best {
			best = r.Score
		}
	}
	for _, r := range rs {
		h := Hit{Store: name, Entry: r.Entry, RawScore: r.Score, Field: r.Field}
		if best > 0 {
			h.Score = r.Score / best
		}
		if !q.Authorized {
			h = redact(h)
		}
		g.Hits = append(g.Hits, h)
	}
	return g
}

// redact hides the secret of a high-sensitivity vault entry.
func redact(h Hit) Hit {
	h.Entry, h.Redacted = memory.Redact(h.Entry)
	return h
}

func sortHits(hs []Hit) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].Score != hs[j].Score {
			return hs[i].Score > hs[j].Score
		}
		if !hs[i].Entry.UpdatedAt.Equal(hs[j].Entry.UpdatedAt) {
			return hs[i].Entry.UpdatedAt.After(hs[j].Entry.UpdatedAt)
		}
		return hs[i].RawScore > hs[j].RawScore
	})
}

func schemaOf(name model.StoreName) *model.Schema {
	if name == model.StoreCore {
		return model.CoreSchema
	}
	return model.Schemas[name]
}
