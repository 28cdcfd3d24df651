package buffer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestMemoryBuffer(t *testing.T, cfg Config) *MemoryBuffer {
	t.Helper()
	b := NewMemoryBuffer(cfg, setupTestLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func tokenEvent(requestID, text string) StreamEventItem {
	return StreamEventItem{
		Event:     EventToken,
		Data:      text,
		Node:      "generate",
		RequestID: requestID,
	}
}

func TestMemoryBuffer_FIFO(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, DefaultConfig())

	for _, text := range []string{"one", "two", "three"} {
		stored, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", text))
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())
	}

	size, err := b.Size(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	for _, want := range []string{"one", "two", "three"} {
		item, err := b.Pop(ctx, "s1", "r1", 0)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, want, item.Data)
	}

	item, err := b.Pop(ctx, "s1", "r1", 0)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestMemoryBuffer_BucketsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, DefaultConfig())

	_, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", "first"))
	require.NoError(t, err)
	_, err = b.Push(ctx, "s2", "r2", tokenEvent("r2", "second"))
	require.NoError(t, err)

	item, err := b.Pop(ctx, "s2", "r2", 0)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "second", item.Data)

	size, err := b.Size(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestMemoryBuffer_SeparatorInIDs(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, DefaultConfig())

	_, err := b.Push(ctx, "a:b", "c", tokenEvent("c", "left"))
	require.NoError(t, err)
	_, err = b.Push(ctx, "a", "b:c", tokenEvent("b:c", "right"))
	require.NoError(t, err)

	size, err := b.Size(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	item, err := b.Pop(ctx, "a", "b:c", 0)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "right", item.Data)

	require.NoError(t, b.Cleanup(ctx, "a", "b:c"))
	size, err = b.Size(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestMemoryBuffer_PushValidation(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, DefaultConfig())

	tests := []struct {
		name      string
		requestID string
		event     StreamEventItem
	}{
		{
			name:      "missing event",
			requestID: "r1",
			event:     StreamEventItem{Node: "generate", RequestID: "r1"},
		},
		{
			name:      "blank node",
			requestID: "r1",
			event:     StreamEventItem{Event: EventToken, Node: "  ", RequestID: "r1"},
		},
		{
			name:      "mismatched request id",
			requestID: "r1",
			event:     tokenEvent("other", "x"),
		},
		{
			name:      "empty bucket request id",
			requestID: "",
			event:     StreamEventItem{Event: EventToken, Node: "generate"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Push(ctx, "s1", tc.requestID, tc.event)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestMemoryBuffer_PushFillsRequestID(t *testing.T) {
	b := newTestMemoryBuffer(t, DefaultConfig())

	stored, err := b.Push(context.Background(), "s1", "r1", StreamEventItem{Event: EventStart, Node: "pipeline"})
	require.NoError(t, err)
	assert.Equal(t, "r1", stored.RequestID)
}

func TestMemoryBuffer_PushFull(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, Config{MaxSize: 1, DefaultTimeout: 20 * time.Millisecond})

	_, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", "a"))
	require.NoError(t, err)

	_, err = b.Push(ctx, "s1", "r1", tokenEvent("r1", "b"))
	assert.ErrorIs(t, err, ErrBufferFull)

	// Other buckets are unaffected
	_, err = b.Push(ctx, "s1", "r2", tokenEvent("r2", "c"))
	assert.NoError(t, err)
}

func TestMemoryBuffer_PopWaitsForPush(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, DefaultConfig())

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = b.Push(ctx, "s1", "r1", tokenEvent("r1", "late"))
	}()

	item, err := b.Pop(ctx, "s1", "r1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "late", item.Data)
}

func TestMemoryBuffer_PopTimesOut(t *testing.T) {
	b := newTestMemoryBuffer(t, DefaultConfig())

	start := time.Now()
	item, err := b.Pop(context.Background(), "s1", "missing", 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMemoryBuffer_Cleanup(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, DefaultConfig())

	_, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", "a"))
	require.NoError(t, err)

	require.NoError(t, b.Cleanup(ctx, "s1", "r1"))

	size, err := b.Size(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	// Cleaning an unknown bucket is fine
	assert.NoError(t, b.Cleanup(ctx, "s1", "unknown"))
}

func TestMemoryBuffer_TTLSweep(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, Config{
		DefaultTimeout: time.Second,
		TTL:            time.Second,
		GCInterval:     50 * time.Millisecond,
	})

	_, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", "stale"))
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	assert.Eventually(t, func() bool {
		size, _ := b.Size(ctx, "s1", "r1")
		return size == 0
	}, 500*time.Millisecond, 10*time.Millisecond)

	item, err := b.Pop(ctx, "s1", "r1", 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestMemoryBuffer_TTLDisabled(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, Config{
		DefaultTimeout: time.Second,
		TTL:            0,
		GCInterval:     10 * time.Millisecond,
	})

	_, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", "kept"))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	size, err := b.Size(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestMemoryBuffer_SweepKeepsFreshBuckets(t *testing.T) {
	ctx := context.Background()
	b := newTestMemoryBuffer(t, Config{TTL: time.Minute, GCInterval: time.Hour})

	_, err := b.Push(ctx, "s1", "old", tokenEvent("old", "a"))
	require.NoError(t, err)
	_, err = b.Push(ctx, "s1", "new", tokenEvent("new", "b"))
	require.NoError(t, err)

	b.mu.Lock()
	b.buckets[bucketKey{session: "s1", request: "old"}].lastWrite = time.Now().Add(-2 * time.Minute)
	b.mu.Unlock()

	assert.Equal(t, 1, b.sweep(time.Now()))

	size, _ := b.Size(ctx, "s1", "old")
	assert.Equal(t, 0, size)
	size, _ = b.Size(ctx, "s1", "new")
	assert.Equal(t, 1, size)
}

func TestMemoryBuffer_Close(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer(DefaultConfig(), setupTestLogger())

	type popResult struct {
		item *StreamEventItem
		err  error
	}
	result := make(chan popResult, 1)
	go func() {
		item, err := b.Pop(ctx, "s1", "r1", 10*time.Second)
		result <- popResult{item, err}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	select {
	case r := <-result:
		assert.Nil(t, r.item)
		assert.ErrorIs(t, r.err, ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}

	_, err := b.Push(ctx, "s1", "r1", tokenEvent("r1", "late"))
	assert.ErrorIs(t, err, ErrBufferClosed)
}
