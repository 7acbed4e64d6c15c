// Package router decides, once per absorption cycle, which memory stores an
// observation bundle should update and extracts the candidate entries for
// each. It never fails: any problem yields an all-skip proposal.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/memoria/internal/llm"
	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/telemetry"
)

// Proposal maps each store to the candidates the router extracted for it.
// A store absent from Candidates is skipped.
type Proposal struct {
	Candidates map[model.StoreName][]model.Candidate
	// Reason is set when the whole bundle was skipped.
	Reason string
}

// Skipped reports whether no store receives candidates.
func (p Proposal) Skipped() bool {
	for _, cs := range p.Candidates {
		if len(cs) > 0 {
			return false
		}
	}
	return true
}

// Total counts candidates across stores.
func (p Proposal) Total() int {
	n := 0
	for _, cs := range p.Candidates {
		n += len(cs)
	}
	return n
}

func skip(reason string) Proposal {
	return Proposal{Candidates: map[model.StoreName][]model.Candidate{}, Reason: reason}
}

// Options configures a Router.
type Options struct {
	// CoreLabels are the block labels the model may target.
	CoreLabels []string
	Logger     *slog.Logger
}

// Router classifies bundles with one structured generation call.
type Router struct {
	gen    llm.Generator
	labels []string
	log    *slog.Logger
	schema map[string]any
}

// New creates a router. A nil generator makes every Route an all-skip.
func New(gen llm.Generator, opts Options) *Router {
	labels := opts.CoreLabels
	if len(labels) == 0 {
		labels = []string{"persona", "human"}
	}
	return &Router{
		gen:    gen,
		labels: labels,
		log:    telemetry.Component(opts.Logger, "router"),
		schema: proposalSchema(labels),
	}
}

const system = `You are the meta memory manager of a personal assistant. You receive what the
user was doing (screen text, screenshot references, voice transcripts) and the recent
conversation. Decide which memories should be updated and extract the entries:

- core: durable facts about the user (label "human") or how the assistant should behave (label "persona"), one short line each.
- episodic: time-stamped events describing what happened.
- semantic: general knowledge about concepts, people, places or things.
- procedural: step-by-step workflows and how-tos.
- resource: documents, files and other content the user worked with.
- knowledge_vault: credentials, addresses, phone numbers and similar exact values, with a sensitivity tier.

Return an empty array for every memory that needs no update. Do not invent facts.`

// Route proposes candidates for each store. It makes at most one generation
// call and never returns an error.
func (r *Router) Route(ctx context.Context, b model.Bundle, recent []model.Turn) Proposal {
	log := r.log.With("cycle", b.ID)
	if b.Empty() {
		log.Debug("empty bundle, skipping")
		return skip("empty bundle")
	}
	if r.gen == nil {
		log.Info("no generator configured, skipping bundle", "frames", len(b.Frames))
		return skip("no generator")
	}
	if err := ctx.Err(); err != nil {
		log.Warn("routing cancelled", "error", err)
		return skip("cancelled")
	}

	raw, err := r.gen.Structured(ctx, system, renderPrompt(b, recent), r.schema)
	if err != nil {
		log.Warn("routing failed, skipping bundle", "error", err)
		return skip("generation failed")
	}
	p, err := r.parse(raw)
	if err != nil {
		log.Warn("unparsable routing output, skipping bundle", "error", err)
		return skip("unparsable output")
	}
	log.Info("routed bundle", "frames", len(b.Frames), "candidates", p.Total())
	return p
}

// parse converts model output into a proposal, dropping unknown stores and
// fields. Items that are not objects are ignored.
func (r *Router) parse(raw json.RawMessage) (Proposal, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Proposal{}, fmt.Errorf("decode proposal: %w", err)
	}

	p := Proposal{Candidates: make(map[model.StoreName][]model.Candidate)}
	for key, val := range doc {
		name, err := model.ParseStoreName(key)
		if err != nil {
			r.log.Debug("dropping unknown store", "store", key)
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(val, &items); err != nil {
			r.log.Debug("dropping malformed store entry", "store", key, "error", err)
			continue
		}
		fields := fieldSet(name)
		for _, item := range items {
			c := model.Candidate{Store: name, Fields: make(map[string]string)}
			for k, v := range item {
				kind, ok := fields[k]
				if !ok {
					continue
				}
				if s := stringify(v, kind); s != "" {
					c.Fields[k] = s
				}
			}
			if len(c.Fields) > 0 {
				p.Candidates[name] = append(p.Candidates[name], c)
			}
		}
	}
	return p, nil
}

// fieldSet lists the fields the model may fill for a store.
func fieldSet(name model.StoreName) map[string]model.FieldKind {
	if name == model.StoreCore {
		return map[string]model.FieldKind{"label": model.KindText, "line": model.KindText}
	}
	sc := model.Schemas[name]
	out := make(map[string]model.FieldKind, len(sc.Fields))
	for _, f := range sc.Fields {
		out[f.Name] = f.Kind
	}
	return out
}

// stringify accepts strings, numbers, booleans and arrays of them. Arrays
// become newline-separated items for list fields and spaced text otherwise.
func stringify(v any, kind model.FieldKind) string {
	switch x := v.(type) {
	case string:
		if kind == model.KindList {
			return model.JoinList(model.SplitList(x))
		}
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		var items []string
		for _, it := range x {
			if s := stringify(it, model.KindText); s != "" {
				items = append(items, s)
			}
		}
		if kind == model.KindList {
			return model.JoinList(items)
		}
		return strings.Join(items, " ")
	}
	return ""
}

// proposalSchema builds the JSON schema sent to the model: one array per
// store, each item shaped to that store's fields.
func proposalSchema(labels []string) map[string]any {
	props := map[string]any{
		string(model.StoreCore): arrayOf(map[string]any{
			"label": map[string]any{"type": "string", "enum": labels},
			"line":  map[string]any{"type": "string", "description": "one short fact"},
		}, []string{"label", "line"}),
	}
	required := []string{string(model.StoreCore)}

	names := make([]string, 0, len(model.Schemas))
	for name := range model.Schemas {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		sc := model.Schemas[model.StoreName(name)]
		itemProps := make(map[string]any, len(sc.Fields))
		var req []string
		for _, f := range sc.Fields {
			itemProps[f.Name] = fieldSchema(sc.Store, f)
			if f.Required {
				req = append(req, f.Name)
			}
		}
		props[name] = arrayOf(itemProps, req)
		required = append(required, name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func fieldSchema(store model.StoreName, f model.Field) map[string]any {
	switch {
	case f.Kind == model.KindList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	case f.Name == "sensitivity":
		return map[string]any{"type": "string", "enum": []string{
			model.SensitivityLow, model.SensitivityMedium, model.SensitivityHigh,
		}}
	case store == model.StoreEpisodic && f.Name == "occurred_at":
		return map[string]any{"type": "string", "description": "RFC 3339 timestamp"}
	}
	return map[string]any{"type": "string"}
}

func arrayOf(itemProps map[string]any, required []string) map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":       "object",
			"properties": itemProps,
			"required":   required,
		},
	}
}

// renderPrompt lays out the recent conversation and the frames in capture order.
func renderPrompt(b model.Bundle, recent []model.Turn) string {
	var sb strings.Builder
	if len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Text)
		}
		sb.WriteString("\n")
	}

	frames := append([]model.Frame(nil), b.Frames...)
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Timestamp.Before(frames[j].Timestamp) })

	sb.WriteString("Observations:\n")
	for _, f := range frames {
		if f.Empty() {
			continue
		}
		fmt.Fprintf(&sb, "[%s]\n", f.Timestamp.UTC().Format(time.RFC3339))
		if t := strings.TrimSpace(f.Text); t != "" {
			fmt.Fprintf(&sb, "text: %s\n", t)
		}
		for _, uri := range f.ImageURIs {
			fmt.Fprintf(&sb, "screenshot: %s\n", uri)
		}
		if t := strings.TrimSpace(f.Transcript); t != "" {
			fmt.Fprintf(&sb, "voice: %s\n", t)
		}
	}
	return sb.String()
}
