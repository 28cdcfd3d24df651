package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Common errors returned by Queue implementations
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// UseDefault asks a blocking call to wait for the queue's configured
// DefaultTimeout instead of an explicit duration.
const UseDefault time.Duration = -1

// Backend names a Queue implementation
type Backend string

// Supported backends
const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config holds the queue capacity and blocking defaults
type Config struct {
	// MaxSize bounds the number of pending items. Zero means unbounded.
	MaxSize int

	// DefaultTimeout is used by Put and Get when called with UseDefault.
	DefaultTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:        0,
		DefaultTimeout: time.Second,
	}
}

// Item is a single job descriptor held by the queue.
// It is created on Put and consumed by a successful Get.
type Item struct {
	ID        string    `json:"item_id"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func newItem(payload []byte) *Item {
	return &Item{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Queue is a bounded, blocking, closable FIFO.
// Version: 1.0
type Queue interface {
	// Put appends a payload, waiting up to timeout while the queue is full.
	// Returns ErrQueueFull when the wait expires and ErrQueueClosed after Close.
	Put(ctx context.Context, payload []byte, timeout time.Duration) (*Item, error)

	// Get removes the oldest item, waiting up to timeout for one to arrive.
	// A nil item with a nil error means the wait expired or the queue is
	// closed and drained.
	Get(ctx context.Context, timeout time.Duration) (*Item, error)

	// Size reports the number of pending items
	Size(ctx context.Context) (int, error)

	// Close stops accepting items and wakes every blocked Get. Idempotent.
	Close() error

	// IsClosed reports whether Close has been called
	IsClosed() bool

	// Config returns the queue configuration
	Config() Config
}

// Options selects and configures a backend for New
type Options struct {
	Backend Backend
	Name    string
	Client  redis.UniversalClient
	Config  Config
}

// New builds the Queue implementation named by opts.Backend
func New(opts Options, logger *slog.Logger) (Queue, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryQueue(opts.Config, logger), nil
	case BackendRedis:
		if opts.Client == nil {
			return nil, fmt.Errorf("redis queue %q requires a client", opts.Name)
		}
		return NewRedisQueue(opts.Client, opts.Name, opts.Config, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
	}
}

// resolveTimeout maps UseDefault onto the configured default
func resolveTimeout(timeout, fallback time.Duration) time.Duration {
	if timeout < 0 {
		if fallback < 0 {
			return 0
		}
		return fallback
	}
	return timeout
}

// waitUntil blocks until wake fires, the deadline passes, or ctx ends.
// It reports whether the caller was woken and should re-check state.
func waitUntil(ctx context.Context, wake <-chan struct{}, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-wake:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
