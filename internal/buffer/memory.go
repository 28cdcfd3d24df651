package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type bucket struct {
	items     []StreamEventItem
	lastWrite time.Time
}

// MemoryBuffer implements EventBuffer in process.
// One mutex guards every bucket; blocked callers wait on a shared wake
// channel that is closed and replaced whenever a bucket changes.
type MemoryBuffer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	wake    chan struct{}
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewMemoryBuffer creates an in-process buffer and starts its expiry sweep
// when cfg.TTL is positive.
func NewMemoryBuffer(cfg Config, logger *slog.Logger) *MemoryBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryBuffer{
		cfg:     applyDefaults(cfg),
		logger:  logger.With("component", "memory_event_buffer"),
		buckets: make(map[bucketKey]*bucket),
		wake:    make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if b.cfg.TTL > 0 {
		go b.sweepLoop()
	} else {
		close(b.done)
	}
	return b
}

var _ EventBuffer = (*MemoryBuffer)(nil)

// bucketKey identifies one (session, request) bucket. Ids are opaque, so
// they are kept apart rather than joined with a separator.
type bucketKey struct {
	session string
	request string
}

func (b *MemoryBuffer) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Push appends an event to the bucket
func (b *MemoryBuffer) Push(ctx context.Context, sessionID, requestID string, event StreamEventItem) (StreamEventItem, error) {
	item, err := normalize(requestID, event)
	if err != nil {
		return item, err
	}

	key := bucketKey{session: sessionID, request: requestID}
	deadline := time.Now().Add(resolveTimeout(UseDefault, b.cfg.DefaultTimeout))

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return item, ErrBufferClosed
		}
		bk, ok := b.buckets[key]
		if !ok {
			bk = &bucket{}
			b.buckets[key] = bk
		}
		if b.cfg.MaxSize == 0 || len(bk.items) < b.cfg.MaxSize {
			bk.items = append(bk.items, item)
			bk.lastWrite = time.Now()
			b.broadcastLocked()
			b.mu.Unlock()
			return item, nil
		}
		wake := b.wake
		b.mu.Unlock()

		if !waitUntil(ctx, wake, deadline) {
			if err := ctx.Err(); err != nil {
				return item, err
			}
			return item, fmt.Errorf("%w: bucket capacity %d reached", ErrBufferFull, b.cfg.MaxSize)
		}
	}
}

// Pop removes the oldest event from the bucket
func (b *MemoryBuffer) Pop(ctx context.Context, sessionID, requestID string, timeout time.Duration) (*StreamEventItem, error) {
	key := bucketKey{session: sessionID, request: requestID}
	deadline := time.Now().Add(resolveTimeout(timeout, b.cfg.DefaultTimeout))

	for {
		b.mu.Lock()
		if bk, ok := b.buckets[key]; ok && len(bk.items) > 0 {
			item := bk.items[0]
			bk.items[0] = StreamEventItem{}
			bk.items = bk.items[1:]
			b.broadcastLocked()
			b.mu.Unlock()
			return &item, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBufferClosed
		}
		wake := b.wake
		b.mu.Unlock()

		if !waitUntil(ctx, wake, deadline) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
}

// Size returns the number of events in the bucket
func (b *MemoryBuffer) Size(_ context.Context, sessionID, requestID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bk, ok := b.buckets[bucketKey{session: sessionID, request: requestID}]; ok {
		return len(bk.items), nil
	}
	return 0, nil
}

// Cleanup drops the bucket
func (b *MemoryBuffer) Cleanup(_ context.Context, sessionID, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buckets, bucketKey{session: sessionID, request: requestID})
	return nil
}

// Close stops the sweep and wakes blocked callers. Idempotent.
func (b *MemoryBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.broadcastLocked()
	b.mu.Unlock()

	close(b.stop)
	<-b.done
	b.logger.Info("event buffer closed")
	return nil
}

// Config returns the buffer configuration
func (b *MemoryBuffer) Config() Config {
	return b.cfg
}

func (b *MemoryBuffer) sweepLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.sweep(now)
		}
	}
}

// sweep drops buckets whose last write is at least TTL before now
func (b *MemoryBuffer) sweep(now time.Time) int {
	b.mu.Lock()
	removed := 0
	for key, bk := range b.buckets {
		if now.Sub(bk.lastWrite) >= b.cfg.TTL {
			delete(b.buckets, key)
			removed++
		}
	}
	b.mu.Unlock()

	if removed > 0 {
		b.logger.Info("expired buckets removed", "removed", removed)
	}
	return removed
}

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
