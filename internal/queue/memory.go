package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryQueue implements Queue inside a single process.
// All state sits behind one mutex; blocked callers wait on a wake channel
// that is closed and replaced on every state change.
type MemoryQueue struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	items  []*Item
	wake   chan struct{}
	closed atomic.Bool
}

// NewMemoryQueue creates an in-process queue with the given configuration
func NewMemoryQueue(cfg Config, logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}

	return &MemoryQueue{
		cfg:    cfg,
		logger: logger.With("component", "memory_queue"),
		items:  make([]*Item, 0),
		wake:   make(chan struct{}),
	}
}

var _ Queue = (*MemoryQueue)(nil)

// broadcastLocked wakes every waiter. Caller must hold q.mu.
func (q *MemoryQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Put adds a payload to the tail of the queue
func (q *MemoryQueue) Put(ctx context.Context, payload []byte, timeout time.Duration) (*Item, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	item := newItem(payload)
	deadline := time.Now().Add(resolveTimeout(timeout, q.cfg.DefaultTimeout))

	for {
		q.mu.Lock()
		if q.closed.Load() {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if q.cfg.MaxSize == 0 || len(q.items) < q.cfg.MaxSize {
			q.items = append(q.items, item)
			size := len(q.items)
			q.broadcastLocked()
			q.mu.Unlock()

			q.logger.Debug("item enqueued",
				"item_id", item.ID,
				"queue_len", size,
				"queue_cap", q.cfg.MaxSize)
			return item, nil
		}
		wake := q.wake
		q.mu.Unlock()

		if !waitUntil(ctx, wake, deadline) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.cfg.MaxSize)
		}
	}
}

// Get removes the item at the head of the queue
func (q *MemoryQueue) Get(ctx context.Context, timeout time.Duration) (*Item, error) {
	deadline := time.Now().Add(resolveTimeout(timeout, q.cfg.DefaultTimeout))

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.broadcastLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed.Load() {
			q.mu.Unlock()
			return nil, nil
		}
		wake := q.wake
		q.mu.Unlock()

		if !waitUntil(ctx, wake, deadline) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
}

// Size returns the number of pending items
func (q *MemoryQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close closes the queue and wakes all blocked callers
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return nil
	}
	q.closed.Store(true)
	q.broadcastLocked()
	q.logger.Info("job queue closed", "pending", len(q.items))
	return nil
}

// IsClosed reports whether Close has been called
func (q *MemoryQueue) IsClosed() bool {
	return q.closed.Load()
}

// Config returns the queue configuration
func (q *MemoryQueue) Config() Config {
	return q.cfg
}
