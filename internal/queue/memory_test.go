package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
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

func TestNewMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(Config{MaxSize: 10, DefaultTimeout: time.Second}, setupTestLogger())

	assert.NotNil(t, q)
	assert.Equal(t, 10, q.Config().MaxSize)
	assert.False(t, q.IsClosed())

	// Negative sizes are treated as unbounded
	q = NewMemoryQueue(Config{MaxSize: -3}, nil)
	assert.Equal(t, 0, q.Config().MaxSize)
}

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(DefaultConfig(), setupTestLogger())

	for _, payload := range []string{"a", "b", "c"} {
		item, err := q.Put(ctx, []byte(payload), 0)
		require.NoError(t, err)
		assert.NotEmpty(t, item.ID)
		assert.False(t, item.CreatedAt.IsZero())
	}

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	for _, want := range []string{"a", "b", "c"} {
		item, err := q.Get(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, want, string(item.Payload))
	}

	item, err := q.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestMemoryQueue_PutFullTimesOut(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{MaxSize: 1}, setupTestLogger())

	_, err := q.Put(ctx, []byte("first"), 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = q.Put(ctx, []byte("second"), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// Non-blocking put fails immediately
	_, err = q.Put(ctx, []byte("third"), 0)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryQueue_PutWaitsForSpace(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{MaxSize: 1}, setupTestLogger())

	_, err := q.Put(ctx, []byte("first"), 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = q.Get(ctx, 0)
	}()

	_, err = q.Put(ctx, []byte("second"), time.Second)
	assert.NoError(t, err)
}

func TestMemoryQueue_GetTimesOut(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), setupTestLogger())

	start := time.Now()
	item, err := q.Get(context.Background(), 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMemoryQueue_GetUsesDefaultTimeout(t *testing.T) {
	q := NewMemoryQueue(Config{DefaultTimeout: 30 * time.Millisecond}, setupTestLogger())

	start := time.Now()
	item, err := q.Get(context.Background(), UseDefault)
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueue_GetHonoursContext(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), setupTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item, err := q.Get(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, item)
}

func TestMemoryQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(DefaultConfig(), setupTestLogger())

	_, err := q.Put(ctx, []byte("pending"), 0)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	assert.True(t, q.IsClosed())

	// Closing twice is a no-op
	require.NoError(t, q.Close())

	_, err = q.Put(ctx, []byte("late"), 0)
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Pending items can still be drained
	item, err := q.Get(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "pending", string(item.Payload))

	// Once drained, Get returns empty without waiting for the timeout
	start := time.Now()
	item, err = q.Get(ctx, 5*time.Second)
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryQueue_CloseUnblocksGet(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig(), setupTestLogger())

	var wg sync.WaitGroup
	results := make(chan *Item, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, _ := q.Get(context.Background(), 10*time.Second)
			results <- item
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Close")
	}

	close(results)
	for item := range results {
		assert.Nil(t, item)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	q, err := New(Options{Backend: BackendMemory, Config: DefaultConfig()}, setupTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = New(Options{Backend: BackendRedis, Name: "jobs"}, setupTestLogger())
	assert.Error(t, err)

	_, err = New(Options{Backend: "kafka"}, setupTestLogger())
	assert.Error(t, err)
}
