// Package worker consumes a job queue on a dedicated goroutine and dispatches
// each item to a single registered handler with bounded retry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phrazzld/chatrelay/internal/queue"
)

// ErrNoHandler is returned by Start when no handler has been registered
var ErrNoHandler = errors.New("worker handler is not registered")

// State is the lifecycle state of a Worker
type State string

// Worker states
const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
	StateError   State = "ERROR"
)

// Handler processes one queue item. A returned error or a panic counts as a
// failed attempt.
type Handler func(ctx context.Context, item *queue.Item) error

// Config holds worker polling and retry settings
type Config struct {
	// Name identifies the worker in logs
	Name string

	// PollTimeout bounds each blocking Get on the queue
	PollTimeout time.Duration

	// MaxRetries is the number of additional attempts after a failure
	MaxRetries int

	// StopOnError ends the loop once an item exhausts its retries
	StopOnError bool

	// RetryDelay is slept between attempts. Zero retries immediately.
	RetryDelay time.Duration

	// StopTimeout bounds how long Stop waits for the loop to exit
	StopTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Name:        "worker",
		PollTimeout: time.Second,
		MaxRetries:  0,
		StopOnError: false,
		RetryDelay:  0,
		StopTimeout: 3 * time.Second,
	}
}

// Option configures a Worker at construction
type Option func(*Worker)

// WithHandler registers the handler at construction
func WithHandler(h Handler) Option {
	return func(w *Worker) {
		w.handler = h
	}
}

// Worker pulls items from a queue.Queue and runs the handler on each
type Worker struct {
	queue  queue.Queue
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	handler Handler
	running bool

	stop       chan struct{}
	done       chan struct{}
	pollCancel context.CancelFunc
	workCancel context.CancelFunc
}

// New creates an idle worker bound to q
func New(q queue.Queue, cfg Config, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}

	w := &Worker{
		queue:  q,
		cfg:    cfg,
		logger: logger.With("component", "worker", "worker", cfg.Name),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetHandler replaces the registered handler
func (w *Worker) SetHandler(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Name returns the configured worker name
func (w *Worker) Name() string {
	return w.cfg.Name
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// markError records a failed item unless stop has been signalled, so a loop
// abandoned by Stop cannot move a STOPPED worker back to ERROR.
func (w *Worker) markError(stop <-chan struct{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	w.state = StateError
	return true
}

// Start launches the polling goroutine. It is a no-op while already running.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if w.handler == nil {
		return ErrNoHandler
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())
	w.pollCancel = pollCancel
	w.workCancel = workCancel
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	w.state = StateRunning

	go w.run(pollCtx, workCtx, w.stop, w.done, w.handler)

	w.logger.Info("worker started")
	return nil
}

// Stop signals the loop, closes the queue and waits up to StopTimeout for
// the loop to exit. The worker is STOPPED when Stop returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	pollCancel, workCancel := w.pollCancel, w.workCancel
	w.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if err := w.queue.Close(); err != nil {
		w.logger.Warn("failed to close queue", "error", err)
	}
	if pollCancel != nil {
		pollCancel()
	}

	if done != nil {
		timer := time.NewTimer(w.cfg.StopTimeout)
		select {
		case <-done:
		case <-timer.C:
			w.logger.Warn("worker did not stop in time, abandoning in-flight item",
				"stop_timeout", w.cfg.StopTimeout)
		}
		timer.Stop()
	}
	if workCancel != nil {
		workCancel()
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	w.logger.Info("worker stopped")
}

func (w *Worker) run(pollCtx, workCtx context.Context, stop <-chan struct{}, done chan<- struct{}, handler Handler) {
	defer func() {
		w.mu.Lock()
		w.running = false
		if w.state == StateRunning {
			w.state = StateStopped
		}
		w.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		item, err := w.queue.Get(pollCtx, w.cfg.PollTimeout)
		if err != nil {
			if pollCtx.Err() != nil {
				return
			}
			w.logger.Error("failed to read from queue", "error", err)
			if !sleep(stop, w.cfg.PollTimeout) {
				return
			}
			continue
		}
		if item == nil {
			if w.queue.IsClosed() {
				w.logger.Debug("queue closed and drained, exiting")
				return
			}
			continue
		}

		if w.process(workCtx, stop, item) {
			continue
		}

		if !w.markError(stop) {
			return
		}
		if w.cfg.StopOnError {
			w.logger.Error("stopping worker after unrecoverable item", "item_id", item.ID)
			w.setState(StateStopped)
			return
		}
	}
}

// process runs the handler with retries and reports whether it succeeded
func (w *Worker) process(ctx context.Context, stop <-chan struct{}, item *queue.Item) bool {
	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()

	attempts := w.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := invoke(ctx, handler, item)
		if err == nil {
			return true
		}

		w.logger.Error("worker handler failed",
			"item_id", item.ID,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)

		if attempt < attempts && w.cfg.RetryDelay > 0 {
			if !sleep(stop, w.cfg.RetryDelay) {
				return false
			}
		}
	}
	return false
}

func invoke(ctx context.Context, handler Handler, item *queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	if handler == nil {
		return ErrNoHandler
	}
	return handler(ctx, item)
}

// sleep waits for d and reports false if stop fired first
func sleep(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
