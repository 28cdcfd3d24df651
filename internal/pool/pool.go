package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the Pool
var (
	ErrPoolClosed   = errors.New("thread pool is closed")
	ErrTaskPanicked = errors.New("task panicked")
)

// Func is the signature of a task run by the pool.
// The context is cancelled when the pool is shut down without waiting.
type Func func(ctx context.Context, args ...any) (any, error)

// Config holds configuration options for the pool
type Config struct {
	// MaxWorkers is the fixed number of goroutines executing tasks.
	// If zero or negative, defaults to 4.
	MaxWorkers int

	// NamePrefix labels worker goroutines in logs
	NamePrefix string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
		NamePrefix: "thread-pool",
	}
}

type job struct {
	fn     Func
	args   []any
	future *Future
}

// Pool executes submitted tasks on a fixed set of worker goroutines.
// Workers are started on the first Submit or an explicit Start.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	futures map[string]*Future
	started bool
	closed  bool

	wg sync.WaitGroup
}

// New creates a pool. No goroutines are started until Start or Submit.
func New(cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.MaxWorkers,
			"default_count", DefaultConfig().MaxWorkers)
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = DefaultConfig().NamePrefix
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		logger:  logger.With("component", "thread_pool", "pool", cfg.NamePrefix),
		ctx:     ctx,
		cancel:  cancel,
		futures: make(map[string]*Future),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines. Calling it again is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked()
}

func (p *Pool) startLocked() {
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		name := fmt.Sprintf("%s_%d", p.cfg.NamePrefix, i)
		p.wg.Add(1)
		go p.work(name)
	}

	p.logger.Info("thread pool started", "max_workers", p.cfg.MaxWorkers)
}

// Submit schedules fn with args and returns its Future
func (p *Pool) Submit(fn Func, args ...any) (*Future, error) {
	return p.SubmitWithMetadata(nil, fn, args...)
}

// SubmitWithMetadata is Submit with extra metadata recorded on the TaskRecord
func (p *Pool) SubmitWithMetadata(metadata map[string]any, fn Func, args ...any) (*Future, error) {
	if fn == nil {
		return nil, errors.New("task function cannot be nil")
	}

	snapshot := make([]any, len(args))
	copy(snapshot, args)
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	future := newFuture(TaskRecord{
		ID:          uuid.NewString(),
		Payload:     snapshot,
		SubmittedAt: time.Now().UTC(),
		Metadata:    meta,
	})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.startLocked()
	p.queue = append(p.queue, &job{fn: fn, args: snapshot, future: future})
	p.futures[future.record.ID] = future
	p.cond.Signal()
	p.mu.Unlock()

	p.logger.Debug("task submitted", "task_id", future.record.ID)
	return future, nil
}

// Task wraps fn so that each call submits it to the pool
func (p *Pool) Task(fn Func) func(args ...any) (*Future, error) {
	return func(args ...any) (*Future, error) {
		return p.Submit(fn, args...)
	}
}

// Pending returns the number of submitted tasks that have not finished
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.futures)
}

// Shutdown stops accepting tasks. Queued tasks still run.
// With wait set it blocks until every outstanding task has finished;
// otherwise it returns at once and cancels the task context.
// Calling it more than once is safe.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	first := !p.closed
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if first {
		p.logger.Info("thread pool shutting down", "wait", wait)
	}

	if !wait {
		p.cancel()
		return
	}

	p.wg.Wait()
	p.cancel()
	if first {
		p.logger.Info("thread pool stopped")
	}
}

func (p *Pool) work(name string) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		value, err := p.run(name, j)

		p.mu.Lock()
		delete(p.futures, j.future.record.ID)
		p.mu.Unlock()

		j.future.resolve(value, err)
	}
}

func (p *Pool) run(name string, j *job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"worker", name,
				"task_id", j.future.record.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			value = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	value, err = j.fn(p.ctx, j.args...)
	if err != nil {
		p.logger.Debug("task failed",
			"worker", name,
			"task_id", j.future.record.ID,
			"error", err)
	}
	return value, err
}

// WithPool runs fn with a started pool and shuts the pool down, waiting for
// outstanding tasks, when fn returns or panics.
func WithPool(cfg Config, logger *slog.Logger, fn func(p *Pool) error) error {
	p := New(cfg, logger)
	p.Start()
	defer p.Shutdown(true)
	return fn(p)
}
