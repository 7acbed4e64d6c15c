// Package buffer accumulates captured frames between absorption cycles.
package buffer

import (
	"context"
	"sync"

	"github.com/rcliao/memoria/internal/model"
)

// DefaultBatchSize is how many frames trigger an absorption cycle.
const DefaultBatchSize = 20

// Buffer is an ordered frame queue drained once per absorption cycle.
type Buffer interface {
	// Add appends a frame and returns the buffered count.
	Add(ctx context.Context, f model.Frame) (int, error)
	// Len returns the buffered count.
	Len(ctx context.Context) (int, error)
	// Drain removes and returns every buffered frame in arrival order.
	Drain(ctx context.Context) ([]model.Frame, error)
	Close() error
}

// MemoryBuffer is a process-local Buffer.
type MemoryBuffer struct {
	mu     sync.Mutex
	frames []model.Frame
}

// NewMemory creates an empty in-process buffer.
func NewMemory() *MemoryBuffer {
	return &MemoryBuffer{}
}

func (b *MemoryBuffer) Add(ctx context.Context, f model.Frame) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
	return len(b.frames), nil
}

func (b *MemoryBuffer) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames), nil
}

func (b *MemoryBuffer) Drain(ctx context.Context) ([]model.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.frames
	b.frames = nil
	return out, nil
}

func (b *MemoryBuffer) Close() error { return nil }
