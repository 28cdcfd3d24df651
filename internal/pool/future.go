package pool

import (
	"context"
	"time"
)

// TaskRecord describes a submitted task. It exists for observability only.
type TaskRecord struct {
	ID          string
	Payload     []any
	SubmittedAt time.Time
	Metadata    map[string]any
}

// Future is the handle to the eventual result of a submitted task
type Future struct {
	record TaskRecord
	done   chan struct{}
	value  any
	err    error
}

func newFuture(record TaskRecord) *Future {
	return &Future{
		record: record,
		done:   make(chan struct{}),
	}
}

// resolve stores the outcome and releases waiters. Called exactly once.
func (f *Future) resolve(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the task has finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx ends.
// It returns the task's value and error, or ctx.Err() if ctx ended first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Record returns the task record captured at submission
func (f *Future) Record() TaskRecord {
	return f.record
}
