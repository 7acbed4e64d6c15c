package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes vectors by exact text. Repeated queries across stores in a
// single retrieval hit the provider once.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps an embedder with a cache holding up to size vectors.
func NewCached(inner Embedder, size int64) (*Cached, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.(Vector), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	c.cache.Wait()
	return vec, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Close releases the cache's background goroutines.
func (c *Cached) Close() { c.cache.Close() }
