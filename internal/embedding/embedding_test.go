package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestNew_Disabled(t *testing.T) {
	e, err := New(Options{})
	if !errors.Is(err, ErrUnavailable) || e != nil {
		t.Errorf("expected ErrUnavailable, got %v %v", e, err)
	}
	if _, err := New(Options{Provider: "bogus"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	h := NewHashEmbedder(128)

	a, _ := h.Embed(ctx, "weekly teams meeting")
	b, _ := h.Embed(ctx, "Teams meeting, weekly!")
	c, _ := h.Embed(ctx, "sourdough bread recipe")

	if len(a) != 128 || h.Dims() != 128 {
		t.Fatalf("expected 128 dims, got %d", len(a))
	}
	// Vectors are unit length, so the dot product is the cosine.
	if sim := dot(a, b); sim < 0.99 {
		t.Errorf("same words should embed identically, got %f", sim)
	}
	if dot(a, c) >= dot(a, b) {
		t.Error("unrelated text should be less similar")
	}
}

func dot(a, b Vector) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls++
	return Vector{1, 2, 3}, nil
}

func (c *countingEmbedder) Dims() int { return 3 }

func TestCached(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Embed(ctx, "same query"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls)
	}
	if c.Dims() != 3 {
		t.Errorf("expected dims passed through")
	}
}
