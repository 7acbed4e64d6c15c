package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoria/internal/model"
)

type fakeGen struct {
	out     string
	err     error
	calls   int
	prompts []string
	schema  map[string]any
}

func (f *fakeGen) Structured(ctx context.Context, system, prompt string, schema map[string]any) (json.RawMessage, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.schema = schema
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.out), nil
}

func (f *fakeGen) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "", errors.New("not used")
}

func bundle(text string) model.Bundle {
	return model.Bundle{ID: "c1", Frames: []model.Frame{{
		Timestamp: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Text:      text,
		ImageURIs: []string{"file:///shots/1.png"},
	}}}
}

func TestRouteParsesCandidates(t *testing.T) {
	gen := &fakeGen{out: `{
		"core": [{"label": "human", "line": "Likes sushi"}],
		"episodic": [{"event_type": "meal", "summary": "Ordered sushi", "actor": "user", "mood": "happy"}],
		"procedural": [{"entry_type": "workflow", "description": "Order food", "steps": ["open app", "pick sushi"]}],
		"semantic": [],
		"weather": [{"summary": "sunny"}],
		"knowledge_vault": "not an array"
	}`}
	r := New(gen, Options{})

	p := r.Route(context.Background(), bundle("sushi order confirmed"), []model.Turn{{Role: "user", Text: "I love sushi"}})
	require.Equal(t, 1, gen.calls)
	assert.False(t, p.Skipped())
	assert.Equal(t, 3, p.Total())

	core := p.Candidates[model.StoreCore]
	require.Len(t, core, 1)
	assert.Equal(t, "Likes sushi", core[0].Fields["line"])

	ep := p.Candidates[model.StoreEpisodic]
	require.Len(t, ep, 1)
	assert.NotContains(t, ep[0].Fields, "mood")
	assert.Equal(t, model.StoreEpisodic, ep[0].Store)

	proc := p.Candidates[model.StoreProcedural]
	require.Len(t, proc, 1)
	assert.Equal(t, "open app\npick sushi", proc[0].Fields["steps"])

	assert.Contains(t, gen.prompts[0], "user: I love sushi")
	assert.Contains(t, gen.prompts[0], "screenshot: file:///shots/1.png")
	assert.Contains(t, gen.prompts[0], "[2025-05-01T12:00:00Z]")
}

func TestRouteSkipsOnFailure(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		gen   *fakeGen
		b     model.Bundle
		calls int
	}{
		{"generation error", &fakeGen{err: errors.New("boom")}, bundle("x"), 1},
		{"unparsable", &fakeGen{out: `[1, 2]`}, bundle("x"), 1},
		{"empty bundle", &fakeGen{out: `{}`}, model.Bundle{Frames: []model.Frame{{Text: "  "}}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.gen, Options{}).Route(ctx, tt.b, nil)
			assert.True(t, p.Skipped())
			assert.NotEmpty(t, p.Reason)
			assert.Equal(t, tt.calls, tt.gen.calls)
		})
	}

	p := New(nil, Options{}).Route(ctx, bundle("x"), nil)
	assert.True(t, p.Skipped())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	gen := &fakeGen{out: `{}`}
	p = New(gen, Options{}).Route(cancelled, bundle("x"), nil)
	assert.True(t, p.Skipped())
	assert.Zero(t, gen.calls)
}

func TestProposalSchemaCoversEveryStore(t *testing.T) {
	s := proposalSchema([]string{"persona", "human"})
	props := s["properties"].(map[string]any)
	for _, name := range model.AllStores {
		assert.Contains(t, props, string(name))
	}
	assert.Len(t, s["required"], len(model.AllStores))

	vault := props[string(model.StoreVault)].(map[string]any)["items"].(map[string]any)
	sens := vault["properties"].(map[string]any)["sensitivity"].(map[string]any)
	assert.Equal(t, []string{"low", "medium", "high"}, sens["enum"])
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "a\nb", stringify([]any{"a", " ", "b"}, model.KindList))
	assert.Equal(t, "a b", stringify([]any{"a", "b"}, model.KindText))
	assert.Equal(t, "a\nb", stringify("a\n\n b", model.KindList))
	assert.Equal(t, "42", stringify(42.0, model.KindText))
	assert.Equal(t, "", stringify(map[string]any{}, model.KindText))
}
