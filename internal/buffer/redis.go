package buffer

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
	capacityPollInterval = 50 * time.Millisecond
	blockSlice           = time.Second
)

// RedisBuffer implements EventBuffer with one Redis list per bucket.
// Expiry is delegated to Redis: every push refreshes the key's TTL.
type RedisBuffer struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
	closed atomic.Bool
}

// NewRedisBuffer creates a buffer using keys "<prefix>:<session>:<request>"
func NewRedisBuffer(client redis.UniversalClient, cfg Config, logger *slog.Logger) *RedisBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBuffer{
		client: client,
		cfg:    applyDefaults(cfg),
		logger: logger.With("component", "redis_event_buffer"),
	}
}

var _ EventBuffer = (*RedisBuffer)(nil)

// Key returns the Redis key of a bucket
func (b *RedisBuffer) Key(sessionID, requestID string) string {
	return b.cfg.KeyPrefix + ":" + sessionID + ":" + requestID
}

// Push appends an event and refreshes the bucket TTL
func (b *RedisBuffer) Push(ctx context.Context, sessionID, requestID string, event StreamEventItem) (StreamEventItem, error) {
	if b.closed.Load() {
		return event, ErrBufferClosed
	}

	item, err := normalize(requestID, event)
	if err != nil {
		return item, err
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return item, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	key := b.Key(sessionID, requestID)
	if err := b.waitForCapacity(ctx, key); err != nil {
		return item, err
	}

	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		if b.cfg.TTL > 0 {
			pipe.Expire(ctx, key, b.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		return item, fmt.Errorf("failed to push stream event: %w", err)
	}
	return item, nil
}

func (b *RedisBuffer) waitForCapacity(ctx context.Context, key string) error {
	if b.cfg.MaxSize == 0 {
		return nil
	}

	deadline := time.Now().Add(resolveTimeout(UseDefault, b.cfg.DefaultTimeout))
	for {
		size, err := b.client.LLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read bucket length: %w", err)
		}
		if int(size) < b.cfg.MaxSize {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: bucket capacity %d reached", ErrBufferFull, b.cfg.MaxSize)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(capacityPollInterval):
		}
	}
}

// Pop removes the oldest event from the bucket.
// An undecodable entry is consumed and reported as ErrInvalidEvent.
func (b *RedisBuffer) Pop(ctx context.Context, sessionID, requestID string, timeout time.Duration) (*StreamEventItem, error) {
	key := b.Key(sessionID, requestID)
	wait := resolveTimeout(timeout, b.cfg.DefaultTimeout)
	if b.closed.Load() {
		return b.popClosed(ctx, key)
	}
	if wait == 0 {
		return b.popNow(ctx, key)
	}

	deadline := time.Now().Add(wait)
	for {
		if b.closed.Load() {
			return b.popClosed(ctx, key)
		}

		slice := min(blockSlice, time.Until(deadline))
		if slice < time.Millisecond {
			return nil, nil
		}

		result, err := blockingPop(ctx, b.client, key, slice)
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
			return nil, fmt.Errorf("failed to pop stream event: %w", err)
		}

		if len(result) != 2 {
			return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(result))
		}
		return decodeEvent([]byte(result[1]))
	}
}

func (b *RedisBuffer) popNow(ctx context.Context, key string) (*StreamEventItem, error) {
	raw, err := b.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop stream event: %w", err)
	}
	return decodeEvent(raw)
}

// popClosed drains what is left and reports ErrBufferClosed once empty
func (b *RedisBuffer) popClosed(ctx context.Context, key string) (*StreamEventItem, error) {
	item, err := b.popNow(ctx, key)
	if err == nil && item == nil {
		return nil, ErrBufferClosed
	}
	return item, err
}

func decodeEvent(raw []byte) (*StreamEventItem, error) {
	var item StreamEventItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: failed to decode buffered event: %v", ErrInvalidEvent, err)
	}
	return &item, nil
}

// Size returns the bucket length
func (b *RedisBuffer) Size(ctx context.Context, sessionID, requestID string) (int, error) {
	size, err := b.client.LLen(ctx, b.Key(sessionID, requestID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read bucket length: %w", err)
	}
	return int(size), nil
}

// Cleanup deletes the bucket key
func (b *RedisBuffer) Cleanup(ctx context.Context, sessionID, requestID string) error {
	if err := b.client.Del(ctx, b.Key(sessionID, requestID)).Err(); err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

// Close marks this handle closed. The Redis client is owned by the caller.
func (b *RedisBuffer) Close() error {
	if !b.closed.Swap(true) {
		b.logger.Info("event buffer closed")
	}
	return nil
}

// Config returns the buffer configuration
func (b *RedisBuffer) Config() Config {
	return b.cfg
}

// blockingPop issues BLPOP with a fractional timeout. The typed BLPop helper
// rounds anything under a second up to one.
func blockingPop(ctx context.Context, client redis.UniversalClient, key string, timeout time.Duration) ([]string, error) {
	seconds := strconv.FormatFloat(timeout.Seconds(), 'f', 3, 64)
	return client.Do(ctx, "blpop", key, seconds).StringSlice()
}
