package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/memoria/internal/memory"
	"github.com/rcliao/memoria/internal/model"
)

// AddTurn records a conversation turn; the newest turns are passed to the
// router as short-term context.
func (e *Engine) AddTurn(t model.Turn) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	keep := e.deps.Config.Buffer.RecentTurns
	if keep <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, t)
	if over := len(e.recent) - keep; over > 0 {
		e.recent = append([]model.Turn(nil), e.recent[over:]...)
	}
}

// Recent returns a copy of the retained conversation turns.
func (e *Engine) Recent() []model.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Turn(nil), e.recent...)
}

// Observe buffers a frame and runs an absorption cycle once the batch is
// full. The returned counts are nil when no cycle ran.
func (e *Engine) Observe(ctx context.Context, f model.Frame) (map[model.StoreName]int, error) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	n, err := e.deps.Buffer.Add(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("buffer frame: %w", err)
	}
	if n < e.deps.Config.Buffer.BatchSize {
		return nil, nil
	}
	return e.Flush(ctx)
}

// Flush drains the buffer and absorbs whatever it held.
func (e *Engine) Flush(ctx context.Context) (map[model.StoreName]int, error) {
	frames, err := e.deps.Buffer.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain buffer: %w", err)
	}
	if len(frames) == 0 {
		return map[model.StoreName]int{}, nil
	}
	return e.Absorb(ctx, model.Bundle{ID: uuid.NewString(), Frames: frames})
}

// Absorb runs one absorption cycle: the router proposes candidates, then
// every targeted store applies its own concurrently. The counts are entries
// written (inserted or merged) per store. Routing failures never surface;
// they skip the bundle. An error is returned only on cancellation or when
// every targeted store failed.
func (e *Engine) Absorb(ctx context.Context, b model.Bundle) (map[model.StoreName]int, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	log := e.log.With("cycle", b.ID)

	p := e.deps.Router.Route(ctx, b, e.Recent())
	counts := make(map[model.StoreName]int)
	if p.Skipped() {
		log.Info("bundle skipped", "reason", p.Reason, "frames", len(b.Frames))
		return counts, ctx.Err()
	}

	type outcome struct {
		store model.StoreName
		res   *memory.BatchResult
		err   error
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		outs []outcome
	)
	for name, cands := range p.Candidates {
		if len(cands) == 0 {
			continue
		}
		mgr, err := e.storeManager(name)
		if err != nil {
			mu.Lock()
			outs = append(outs, outcome{store: name, err: err})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(name model.StoreName, mgr memory.StoreManager, cands []model.Candidate) {
			defer wg.Done()
			res, err := safeInsert(ctx, mgr, cands)
			mu.Lock()
			outs = append(outs, outcome{store: name, res: res, err: err})
			mu.Unlock()
		}(name, mgr, cands)
	}
	wg.Wait()

	var errs []error
	for _, o := range outs {
		if o.res != nil {
			counts[o.store] = o.res.Written()
			if rejected := o.res.Count(memory.OutcomeRejected); rejected > 0 {
				log.Warn("candidates rejected", "store", o.store, "rejected", rejected)
			}
		}
		if o.err != nil {
			log.Warn("store absorption failed", "store", o.store, "error", o.err)
			errs = append(errs, fmt.Errorf("%s: %w", o.store, o.err))
		}
	}
	log.Info("bundle absorbed", "frames", len(b.Frames), "candidates", p.Total(), "written", counts)

	if err := ctx.Err(); err != nil {
		return counts, err
	}
	if len(errs) > 0 && len(errs) == len(outs) {
		return counts, fmt.Errorf("all %d stores failed: %w", len(outs), errors.Join(errs...))
	}
	return counts, nil
}

func (e *Engine) storeManager(name model.StoreName) (memory.StoreManager, error) {
	if name == model.StoreCore {
		return e.deps.Core, nil
	}
	return e.Manager(name)
}

// safeInsert keeps a panicking store from taking the cycle down with it.
func safeInsert(ctx context.Context, mgr memory.StoreManager, cands []model.Candidate) (res *memory.BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("insert panicked: %v", r)
		}
	}()
	return mgr.InsertOrMerge(ctx, cands)
}
