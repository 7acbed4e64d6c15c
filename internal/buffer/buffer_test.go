package buffer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoria/internal/model"
)

func setupRedis(t *testing.T) (*RedisBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedis(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr()), Key: "test:frames"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func testBuffers(t *testing.T) map[string]Buffer {
	rb, _ := setupRedis(t)
	return map[string]Buffer{"memory": NewMemory(), "redis": rb}
}

func TestBufferOrderAndDrain(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, b := range testBuffers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				n, err := b.Add(ctx, model.Frame{Timestamp: at.Add(time.Duration(i) * time.Second), Text: fmt.Sprint(i)})
				require.NoError(t, err)
				assert.Equal(t, i+1, n)
			}
			n, err := b.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			frames, err := b.Drain(ctx)
			require.NoError(t, err)
			require.Len(t, frames, 3)
			for i, f := range frames {
				assert.Equal(t, fmt.Sprint(i), f.Text)
				assert.True(t, f.Timestamp.Equal(at.Add(time.Duration(i)*time.Second)))
			}

			n, err = b.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
			frames, err = b.Drain(ctx)
			require.NoError(t, err)
			assert.Empty(t, frames)
		})
	}
}

func TestMemoryBufferConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Add(ctx, model.Frame{Text: "x"})
		}()
	}
	wg.Wait()
	frames, err := b.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, frames, 50)
}

func TestRedisBufferKeepsImages(t *testing.T) {
	ctx := context.Background()
	b, mr := setupRedis(t)
	_, err := b.Add(ctx, model.Frame{ImageURIs: []string{"file:///a.png"}, Transcript: "hello"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:frames"))

	frames, err := b.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"file:///a.png"}, frames[0].ImageURIs)
	assert.Equal(t, "hello", frames[0].Transcript)
	assert.False(t, mr.Exists("test:frames"))
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(RedisOptions{URL: "://nope"})
	assert.Error(t, err)
}
