package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rcliao/memoria/internal/model"
)

// TokenCounter measures text in model tokens.
type TokenCounter func(string) int

// CharCounter approximates one token per four characters.
func CharCounter(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// DefaultCounter counts with the cl100k_base encoding, falling back to
// CharCounter when the encoding cannot be loaded.
func DefaultCounter() TokenCounter {
	return func(s string) int {
		encOnce.Do(func() {
			enc, _ = tiktoken.GetEncoding("cl100k_base")
		})
		if enc == nil {
			return CharCounter(s)
		}
		return len(enc.Encode(s, nil, nil))
	}
}

// ContextParams holds parameters for context assembly.
type ContextParams struct {
	Query Query
	// Budget is the maximum size of the rendered context in tokens.
	Budget int
}

// ContextItem is one memory included in the context.
type ContextItem struct {
	Store    model.StoreName `json:"store"`
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Score    float64         `json:"score"`
	Tokens   int             `json:"tokens"`
	Excerpt  bool            `json:"excerpt,omitempty"`
	Redacted bool            `json:"redacted,omitempty"`
}

// ContextResult is the assembled context.
type ContextResult struct {
	Budget int           `json:"budget"`
	Used   int           `json:"used"`
	Items  []ContextItem `json:"items"`
}

// minExcerptTokens is the smallest leftover budget worth an excerpt.
const minExcerptTokens = 25

// Context searches every store and packs the best hits into a token budget.
// Relevance dominates; recency breaks near-ties.
func (o *Orchestrator) Context(ctx context.Context, p ContextParams) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = 2000
	}
	q := p.Query
	if q.Limit <= 0 {
		q.Limit = 50
	}
	res, err := o.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	out := &ContextResult{Budget: budget, Items: []ContextItem{}}
	if len(res.Hits) == 0 {
		return out, nil
	}

	now := time.Now()
	type scored struct {
		hit   Hit
		score float64
	}
	candidates := make([]scored, 0, len(res.Hits))
	for _, h := range res.Hits {
		// Recency: exponential decay over days.
		age := now.Sub(h.Entry.UpdatedAt).Hours() / 24.0
		recency := math.Exp(-0.1 * age)
		candidates = append(candidates, scored{hit: h, score: h.Score*0.8 + recency*0.2})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Greedy packing into budget.
	used := 0
	for _, c := range candidates {
		text := Render(c.hit)
		item := ContextItem{
			Store:    c.hit.Store,
			ID:       c.hit.Entry.ID,
			Score:    math.Round(c.score*100) / 100,
			Redacted: c.hit.Redacted,
		}
		n := o.counter(text)
		if used+n <= budget {
			item.Text, item.Tokens = text, n
			out.Items = append(out.Items, item)
			used += n
			continue
		}
		if remaining := budget - used; remaining >= minExcerptTokens {
			item.Text = o.excerpt(text, remaining)
			item.Tokens = o.counter(item.Text)
			item.Excerpt = true
			out.Items = append(out.Items, item)
			used += item.Tokens
		}
		break
	}
	out.Used = used
	return out, nil
}

// excerpt shortens text until it fits in limit tokens, marking the cut.
func (o *Orchestrator) excerpt(text string, limit int) string {
	runes := []rune(text)
	n := limit * 4
	if n > len(runes) {
		n = len(runes)
	}
	for n > 0 {
		cand := string(runes[:n]) + "..."
		if o.counter(cand) <= limit {
			return cand
		}
		n = n * 9 / 10
	}
	return ""
}

// Render formats a hit as one provenance-tagged context line.
func Render(h Hit) string {
	e := h.Entry
	tag := fmt.Sprintf("[%s %s]", h.Store, e.ID)

	var parts []string
	switch h.Store {
	case model.StoreCore:
		return fmt.Sprintf("[core/%s] %s", e.Get("label"), strings.ReplaceAll(e.Get("value"), "\n", "; "))
	case model.StoreEpisodic:
		tag = fmt.Sprintf("[episodic %s %s]", e.Get("occurred_at"), e.ID)
	}
	for _, f := range schemaOf(h.Store).Fields {
		if f.Name == "occurred_at" && h.Store == model.StoreEpisodic {
			continue
		}
		v := e.Get(f.Name)
		if v == "" {
			continue
		}
		if f.Kind == model.KindList {
			v = strings.Join(e.List(f.Name), "; ")
		}
		parts = append(parts, f.Name+": "+strings.ReplaceAll(v, "\n", " "))
	}
	return tag + " " + strings.Join(parts, " | ")
}

// RenderBlock joins context items into the block handed to the assistant.
func RenderBlock(r *ContextResult) string {
	var sb strings.Builder
	sb.WriteString("<memory>\n")
	for _, it := range r.Items {
		sb.WriteString(it.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("</memory>")
	return sb.String()
}
