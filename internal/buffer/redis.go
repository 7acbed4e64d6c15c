package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/memoria/internal/model"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string
	// Key is the list holding buffered frames.
	Key            string
	ConnectTimeout time.Duration
}

// RedisBuffer keeps frames in a Redis list so several capture processes can
// feed one absorber.
type RedisBuffer struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and returns a buffer on the configured list.
func NewRedis(opts RedisOptions) (*RedisBuffer, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Key == "" {
		opts.Key = "memoria:frames"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBuffer{client: client, key: opts.Key}, nil
}

func (b *RedisBuffer) Add(ctx context.Context, f model.Frame) (int, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal frame: %w", err)
	}
	n, err := b.client.RPush(ctx, b.key, data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to push frame: %w", err)
	}
	return int(n), nil
}

func (b *RedisBuffer) Len(ctx context.Context) (int, error) {
	n, err := b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read buffer length: %w", err)
	}
	return int(n), nil
}

// Drain reads and clears the list in one MULTI/EXEC so frames pushed
// concurrently land in the next cycle rather than being lost.
func (b *RedisBuffer) Drain(ctx context.Context) ([]model.Frame, error) {
	var lrange *redis.StringSliceCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, b.key, 0, -1)
		pipe.Del(ctx, b.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain buffer: %w", err)
	}

	raw := lrange.Val()
	frames := make([]model.Frame, 0, len(raw))
	for _, s := range raw {
		var f model.Frame
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			return frames, fmt.Errorf("failed to unmarshal frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (b *RedisBuffer) Close() error {
	return b.client.Close()
}
