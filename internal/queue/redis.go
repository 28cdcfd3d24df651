package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// capacityPollInterval is how often a blocked Put re-checks the list length
	capacityPollInterval = 50 * time.Millisecond

	// blockSlice bounds a single BLPOP so a local Close is noticed promptly
	blockSlice = time.Second
)

// RedisQueue implements Queue on top of a Redis list so that producers and
// consumers in different processes share one FIFO.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
	key    string
	cfg    Config
	logger *slog.Logger
	closed atomic.Bool
}

// NewRedisQueue creates a queue stored under the key "queue:<name>"
func NewRedisQueue(client redis.UniversalClient, name string, cfg Config, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "default"
	}
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}

	return &RedisQueue{
		client: client,
		name:   name,
		key:    "queue:" + name,
		cfg:    cfg,
		logger: logger.With("component", "redis_queue", "queue", name),
	}
}

var _ Queue = (*RedisQueue)(nil)

// Key returns the Redis key backing this queue
func (q *RedisQueue) Key() string {
	return q.key
}

// Put appends a payload to the Redis list
func (q *RedisQueue) Put(ctx context.Context, payload []byte, timeout time.Duration) (*Item, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	deadline := time.Now().Add(resolveTimeout(timeout, q.cfg.DefaultTimeout))
	if err := q.waitForCapacity(ctx, deadline); err != nil {
		return nil, err
	}

	item := newItem(payload)
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue item: %w", err)
	}

	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return nil, fmt.Errorf("failed to push queue item: %w", err)
	}

	q.logger.Debug("item enqueued", "item_id", item.ID)
	return item, nil
}

func (q *RedisQueue) waitForCapacity(ctx context.Context, deadline time.Time) error {
	if q.cfg.MaxSize == 0 {
		return nil
	}

	for {
		size, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if int(size) < q.cfg.MaxSize {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.cfg.MaxSize)
		}
		if q.closed.Load() {
			return ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(capacityPollInterval):
		}
	}
}

// Get pops the head of the Redis list
func (q *RedisQueue) Get(ctx context.Context, timeout time.Duration) (*Item, error) {
	wait := resolveTimeout(timeout, q.cfg.DefaultTimeout)
	if q.closed.Load() || wait == 0 {
		return q.popNow(ctx)
	}

	deadline := time.Now().Add(wait)
	for {
		if q.closed.Load() {
			return q.popNow(ctx)
		}

		slice := min(blockSlice, time.Until(deadline))
		if slice < time.Millisecond {
			return nil, nil
		}

		result, err := blockingPop(ctx, q.client, q.key, slice)
		switch {
		case errors.Is(err, redis.Nil):
			if !time.Now().Before(deadline) {
				return nil, nil
			}
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to pop queue item: %w", err)
		}

		// BLPOP replies with [key, value]
		if len(result) != 2 {
			return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(result))
		}
		return decodeItem([]byte(result[1]))
	}
}

func (q *RedisQueue) popNow(ctx context.Context) (*Item, error) {
	raw, err := q.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop queue item: %w", err)
	}
	return decodeItem(raw)
}

func decodeItem(raw []byte) (*Item, error) {
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode queue item: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return &item, nil
}

// Size returns the length of the Redis list
func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	size, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(size), nil
}

// Close marks this handle closed. Items already in Redis stay there for
// other processes; local Get calls drain without blocking.
func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	q.logger.Info("job queue closed")
	return nil
}

// IsClosed reports whether Close has been called
func (q *RedisQueue) IsClosed() bool {
	return q.closed.Load()
}

// Config returns the queue configuration
func (q *RedisQueue) Config() Config {
	return q.cfg
}

// blockingPop issues BLPOP with a fractional timeout. The typed BLPop helper
// rounds anything under a second up to one.
func blockingPop(ctx context.Context, client redis.UniversalClient, key string, timeout time.Duration) ([]string, error) {
	seconds := strconv.FormatFloat(timeout.Seconds(), 'f', 3, 64)
	return client.Do(ctx, "blpop", key, seconds).StringSlice()
}
