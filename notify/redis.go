package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// REDIS STREAM SINK
// =============================================================================

// StreamAdder is the slice of the go-redis client the stream sink needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamNotifier appends every event to a Redis stream. Each entry
// carries the event type, the JSON encoded event under "data", the rendered
// message and a millisecond timestamp.
type RedisStreamNotifier struct {
	client StreamAdder
	stream string
	maxLen int64
}

type RedisStreamOption func(*RedisStreamNotifier)

// WithMaxLen caps the stream length (approximate trimming).
func WithMaxLen(n int64) RedisStreamOption {
	return func(r *RedisStreamNotifier) { r.maxLen = n }
}

func NewRedisStreamNotifier(client StreamAdder, stream string, opts ...RedisStreamOption) *RedisStreamNotifier {
	r := &RedisStreamNotifier{client: client, stream: stream}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisStreamNotifier) Notify(ctx context.Context, e stock.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"type":      string(e.Type),
			"data":      string(data),
			"message":   Message(e),
			"timestamp": time.Now().UnixMilli(),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if _, err := r.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish %s to stream %s: %w", e.Type, r.stream, err)
	}
	return nil
}
