package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
	"github.com/rcliao/memoria/internal/store"
	"github.com/rcliao/memoria/internal/telemetry"
)

// State is the capacity state of a core block.
type State string

const (
	StateNormal       State = "NORMAL"
	StateNearCapacity State = "NEAR_CAPACITY"
	StateRewriting    State = "REWRITING"
)

const (
	// DefaultCharLimit bounds a core block's rendered size.
	DefaultCharLimit = 5000
	// CompactThreshold is the fill ratio at which a block is rewritten.
	CompactThreshold = 0.9
)

// DefaultBlocks are the core blocks every organization starts with.
var DefaultBlocks = []string{"persona", "human"}

// CoreConfig holds the collaborators of a CoreManager.
type CoreConfig struct {
	Org       string
	CharLimit int
	// Labels are the blocks that may be created on first write.
	Labels   []string
	Rewriter Rewriter
	Logger   *slog.Logger
	Clock    *Clock
}

// CoreManager owns the core memory blocks. Each block has its own lock
// covering append and capacity check; rewrites run with the lock released.
type CoreManager struct {
	store    store.Store
	org      string
	limit    int
	labels   map[string]bool
	order    []string
	rewriter Rewriter
	log      *slog.Logger
	clock    *Clock

	mu     sync.Mutex
	blocks map[string]*blockState
}

type blockState struct {
	mu    sync.Mutex
	state State
	// gen changes whenever block content is replaced rather than appended to.
	gen uint64
}

// AppendResult reports a core write.
type AppendResult struct {
	Label string `json:"label"`
	// Added is false when the line was already present.
	Added     bool         `json:"added"`
	State     State        `json:"state"`
	Rewritten bool         `json:"rewritten"`
	Truncated int          `json:"truncated"`
	Block     *model.Block `json:"block"`
}

// NewCore creates the core memory manager.
func NewCore(st store.Store, cfg CoreConfig) *CoreManager {
	if cfg.CharLimit <= 0 {
		cfg.CharLimit = DefaultCharLimit
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultBlocks
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock(nil)
	}
	labels := make(map[string]bool, len(cfg.Labels))
	for _, l := range cfg.Labels {
		labels[l] = true
	}
	return &CoreManager{
		store:    st,
		org:      cfg.Org,
		limit:    cfg.CharLimit,
		labels:   labels,
		order:    cfg.Labels,
		rewriter: cfg.Rewriter,
		log:      telemetry.Component(cfg.Logger, "memory").With("store", string(model.StoreCore)),
		clock:    cfg.Clock,
		blocks:   make(map[string]*blockState),
	}
}

// Store implements StoreManager.
func (c *CoreManager) Store() model.StoreName { return model.StoreCore }

func (c *CoreManager) state(label string) *blockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	bs, ok := c.blocks[label]
	if !ok {
		bs = &blockState{state: StateNormal}
		c.blocks[label] = bs
	}
	return bs
}

// Reset forgets in-memory block state after the stored blocks were replaced
// wholesale. Rewrites in flight see a new generation and discard their result.
func (c *CoreManager) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, bs := range c.blocks {
		bs.mu.Lock()
		bs.gen++
		bs.state = StateNormal
		bs.mu.Unlock()
	}
}

// State returns the capacity state of a block.
func (c *CoreManager) State(label string) State {
	bs := c.state(label)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.state
}

// EnsureBlocks creates any configured block that does not exist yet.
func (c *CoreManager) EnsureBlocks(ctx context.Context) error {
	for _, label := range c.order {
		_, err := c.store.GetBlock(ctx, c.org, label)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return newError("ensure blocks", KindPersistence, model.StoreCore, err)
		}
		now := c.clock.Now()
		b := &model.Block{OrganizationID: c.org, Label: label, CharLimit: c.limit, CreatedAt: now, UpdatedAt: now}
		if err := c.store.PutBlock(ctx, b); err != nil {
			return newError("ensure blocks", KindPersistence, model.StoreCore, err)
		}
	}
	return nil
}

// Blocks returns every block, ordered by label.
func (c *CoreManager) Blocks(ctx context.Context) ([]model.Block, error) {
	bs, err := c.store.ListBlocks(ctx, c.org)
	if err != nil {
		return nil, newError("list blocks", KindPersistence, model.StoreCore, err)
	}
	return bs, nil
}

// Block returns one block.
func (c *CoreManager) Block(ctx context.Context, label string) (*model.Block, error) {
	b, err := c.store.GetBlock(ctx, c.org, label)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError("get block", KindNotFound, model.StoreCore, err)
	}
	if err != nil {
		return nil, newError("get block", KindPersistence, model.StoreCore, err)
	}
	return b, nil
}

// load reads a block, starting an empty one for a configured label.
func (c *CoreManager) load(ctx context.Context, op, label string) (*model.Block, error) {
	b, err := c.store.GetBlock(ctx, c.org, label)
	if err == nil {
		if b.CharLimit <= 0 {
			b.CharLimit = c.limit
		}
		return b, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, newError(op, KindPersistence, model.StoreCore, err)
	}
	if !c.labels[label] {
		return nil, errorf(op, KindValidation, model.StoreCore, "unknown block %q", label)
	}
	return &model.Block{OrganizationID: c.org, Label: label, CharLimit: c.limit}, nil
}

// Append adds a line to a block unless an equivalent line is already there,
// then rewrites the block if it crossed the compaction threshold.
func (c *CoreManager) Append(ctx context.Context, label, line string) (*AppendResult, error) {
	const op = "core append"
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return nil, errorf(op, KindValidation, model.StoreCore, "empty line")
	}

	bs := c.state(label)
	bs.mu.Lock()
	b, err := c.load(ctx, op, label)
	if err != nil {
		bs.mu.Unlock()
		return nil, err
	}
	if utf8.RuneCountInString(line) > b.CharLimit {
		bs.mu.Unlock()
		return nil, errorf(op, KindCapacity, model.StoreCore, "line of %d chars exceeds block limit %d",
			utf8.RuneCountInString(line), b.CharLimit)
	}

	res := &AppendResult{Label: label, Block: b}
	if hasLine(b.Lines, line) {
		res.State = bs.state
		bs.mu.Unlock()
		return res, nil
	}

	b.Lines = append(b.Lines, line)
	b.UpdatedAt = c.clock.Now()
	if err := c.store.PutBlock(ctx, b); err != nil {
		bs.mu.Unlock()
		return nil, newError(op, KindPersistence, model.StoreCore, err)
	}
	res.Added = true
	return c.settle(ctx, bs, b, res)
}

// Replace swaps old for with in a block. old may be a whole line or a
// substring of one; an empty with removes the line.
func (c *CoreManager) Replace(ctx context.Context, label, old, with string) (*AppendResult, error) {
	const op = "core replace"
	old = strings.TrimSpace(old)
	if old == "" {
		return nil, errorf(op, KindValidation, model.StoreCore, "empty text to replace")
	}
	with = strings.Join(strings.Fields(with), " ")

	bs := c.state(label)
	bs.mu.Lock()
	b, err := c.load(ctx, op, label)
	if err != nil {
		bs.mu.Unlock()
		return nil, err
	}

	idx, whole := -1, false
	for i, l := range b.Lines {
		if search.Fold(l) == search.Fold(old) {
			idx, whole = i, true
			break
		}
	}
	if idx < 0 {
		for i, l := range b.Lines {
			if strings.Contains(l, old) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		bs.mu.Unlock()
		return nil, errorf(op, KindNotFound, model.StoreCore, "%q not found in block %q", old, label)
	}

	updated := with
	if !whole {
		updated = strings.TrimSpace(strings.Replace(b.Lines[idx], old, with, 1))
	}
	lines := append([]string{}, b.Lines[:idx]...)
	if updated != "" {
		lines = append(lines, updated)
	}
	b.Lines = append(lines, b.Lines[idx+1:]...)
	b.UpdatedAt = c.clock.Now()
	if err := c.store.PutBlock(ctx, b); err != nil {
		bs.mu.Unlock()
		return nil, newError(op, KindPersistence, model.StoreCore, err)
	}
	bs.gen++
	return c.settle(ctx, bs, b, &AppendResult{Label: label, Added: updated != "", Block: b})
}

// settle runs with bs.mu held and releases it. It updates the block state
// and, when the block crossed the threshold, compacts it.
func (c *CoreManager) settle(ctx context.Context, bs *blockState, b *model.Block, res *AppendResult) (*AppendResult, error) {
	if bs.state == StateRewriting {
		// The in-flight rewrite reconciles this write.
		res.State = bs.state
		bs.mu.Unlock()
		return res, nil
	}
	if !nearCapacity(b) {
		bs.state = StateNormal
		res.State = bs.state
		bs.mu.Unlock()
		return res, nil
	}

	c.log.Info("core block near capacity", "label", b.Label, "size", b.Size(), "limit", b.CharLimit)
	bs.state = StateRewriting
	snapshot := append([]string(nil), b.Lines...)
	gen := bs.gen
	bs.mu.Unlock()

	err := c.compact(ctx, bs, b.Label, b.CharLimit, snapshot, gen, res)
	res.State = c.State(b.Label)
	return res, err
}

// compact rewrites a snapshot of the block without holding its lock, then
// reconciles the result with whatever was written meanwhile and enforces
// the character limit.
func (c *CoreManager) compact(ctx context.Context, bs *blockState, label string, limit int, snapshot []string, gen uint64, res *AppendResult) error {
	const op = "core rewrite"
	rewritten, rerr := c.rewrite(ctx, label, limit, snapshot)

	bs.mu.Lock()
	defer bs.mu.Unlock()

	b, err := c.load(ctx, op, label)
	if err != nil {
		bs.state = StateNearCapacity
		return err
	}
	res.Block = b

	switch {
	case rerr != nil:
		c.log.Warn("core rewrite failed", "label", label, "error", rerr)
	case bs.gen != gen || !hasPrefix(b.Lines, snapshot):
		c.log.Info("core block replaced during rewrite, discarding rewrite", "label", label)
	default:
		b.Lines = append(rewritten, b.Lines[len(snapshot):]...)
		res.Rewritten = true
	}

	dropped := truncate(b)
	if !res.Rewritten && len(dropped) == 0 {
		// Deferred: content unchanged, the next write retries.
		bs.state = stateFor(b)
		return nil
	}
	for _, l := range dropped {
		c.log.Warn("core line dropped", "label", label, "kind", string(KindCapacity), "line", l)
	}
	if len(dropped) > 0 {
		if b.Metadata == nil {
			b.Metadata = make(map[string]any)
		}
		b.Metadata["truncated_lines"] = metaInt(b.Metadata["truncated_lines"]) + len(dropped)
		res.Truncated = len(dropped)
	}

	b.UpdatedAt = c.clock.Now()
	if err := c.store.PutBlock(ctx, b); err != nil {
		bs.state = StateNearCapacity
		return newError(op, KindPersistence, model.StoreCore, err)
	}
	bs.gen++
	bs.state = stateFor(b)
	return nil
}

// rewrite calls the rewriter and validates its output against the block's
// per-line limit.
func (c *CoreManager) rewrite(ctx context.Context, label string, limit int, lines []string) ([]string, error) {
	const op = "core rewrite"
	if c.rewriter == nil {
		return nil, errorf(op, KindExternal, model.StoreCore, "no rewriter configured")
	}
	raw, err := c.rewriter.Rewrite(ctx, label, lines)
	if err != nil {
		return nil, newError(op, KindExternal, model.StoreCore, err)
	}
	out := cleanLines(raw)
	if len(out) == 0 {
		return nil, errorf(op, KindExternal, model.StoreCore, "malformed rewrite: no lines")
	}
	before, after := model.Block{Lines: lines}.Size(), model.Block{Lines: out}.Size()
	if after >= before {
		return nil, errorf(op, KindExternal, model.StoreCore, "malformed rewrite: %d chars, was %d", after, before)
	}
	for _, l := range out {
		if utf8.RuneCountInString(l) > limit {
			return nil, errorf(op, KindExternal, model.StoreCore, "malformed rewrite: line over block limit")
		}
	}
	return out, nil
}

// InsertOrMerge appends routed core candidates. Each candidate names a
// block in "label" (default "human") and the fact in "line".
func (c *CoreManager) InsertOrMerge(ctx context.Context, cands []model.Candidate) (*BatchResult, error) {
	out := &BatchResult{Store: model.StoreCore}
	for i, cand := range cands {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		label := strings.TrimSpace(cand.Fields["label"])
		if label == "" {
			label = "human"
		}
		line := cand.Fields["line"]
		if line == "" {
			line = cand.Fields["value"]
		}

		item := ItemResult{Index: i, Outcome: OutcomeRejected}
		res, err := c.Append(ctx, label, line)
		switch {
		case err != nil:
			item.Err = err
			c.log.Warn("candidate rejected", "index", i, "error", err)
		case res.Added:
			item.Outcome = OutcomeInserted
		default:
			item.Outcome = OutcomeUnchanged
		}
		if res != nil && res.Block != nil {
			e := res.Block.AsEntry()
			item.Entry = &e
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// Search ranks blocks as entries with fields label and value. Blocks carry
// no vectors, so embedding search uses string_match.
func (c *CoreManager) Search(ctx context.Context, p SearchParams) ([]search.Result, error) {
	s := &searcher{schema: model.CoreSchema, store: c.store, org: c.org, log: c.log}
	return s.run(ctx, p)
}

func nearCapacity(b *model.Block) bool {
	return float64(b.Size()) >= CompactThreshold*float64(b.CharLimit)
}

func stateFor(b *model.Block) State {
	if nearCapacity(b) {
		return StateNearCapacity
	}
	return StateNormal
}

// hasLine reports whether an equivalent line exists: the same words after
// folding, ignoring punctuation and spacing.
func hasLine(lines []string, line string) bool {
	key := lineKey(line)
	for _, l := range lines {
		if lineKey(l) == key {
			return true
		}
	}
	return false
}

func lineKey(s string) string {
	return strings.Join(strings.FieldsFunc(search.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}

func hasPrefix(lines, prefix []string) bool {
	if len(lines) < len(prefix) {
		return false
	}
	for i := range prefix {
		if lines[i] != prefix[i] {
			return false
		}
	}
	return true
}

// truncate drops the oldest lines until the block fits and returns them.
func truncate(b *model.Block) []string {
	var dropped []string
	for b.Size() > b.CharLimit && len(b.Lines) > 0 {
		dropped = append(dropped, b.Lines[0])
		b.Lines = b.Lines[1:]
	}
	return dropped
}

func metaInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
