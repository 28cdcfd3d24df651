package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/chatrelay/internal/buffer"
	"github.com/phrazzld/chatrelay/internal/pool"
	"github.com/phrazzld/chatrelay/internal/queue"
	"github.com/phrazzld/chatrelay/internal/worker"
)

// MinTimeout is the smallest accepted generation timeout
const MinTimeout = time.Second

// Config holds executor settings
type Config struct {
	// Timeout bounds a single generation and the idle wait of StreamEvents
	Timeout time.Duration

	// Workers is the number of queue consumers started by Start
	Workers int

	// Worker is the template configuration for each consumer
	Worker worker.Config

	// PersistRetryLimit is the number of extra attempts to store a reply
	PersistRetryLimit int

	// PersistRetryDelay is slept between persistence attempts
	PersistRetryDelay time.Duration

	// DefaultContextWindow applies when a request does not set one
	DefaultContextWindow int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	wc := worker.DefaultConfig()
	wc.Name = "chat-worker"
	return Config{
		Timeout:              180 * time.Second,
		Workers:              1,
		Worker:               wc,
		PersistRetryLimit:    2,
		PersistRetryDelay:    500 * time.Millisecond,
		DefaultContextWindow: 20,
	}
}

// Options carries the executor's collaborators. Pipeline, Jobs, Buffer and
// Pool are required.
type Options struct {
	Pipeline Pipeline
	Jobs     queue.Queue
	Buffer   buffer.EventBuffer
	Pool     *pool.Pool

	// Messages stores history and finished replies. Optional.
	Messages MessageStore

	// Sessions validates session ids on submit. Optional.
	Sessions SessionStore

	// Status records coarse session status. Defaults to MemoryStatusSink.
	Status StatusSink
}

// Executor coordinates job submission, worker-side generation, event relay
// and session status.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	pipeline Pipeline
	jobs     queue.Queue
	buffer   buffer.EventBuffer
	pool     *pool.Pool
	messages MessageStore
	sessions SessionStore
	status   StatusSink

	statusMu sync.Mutex

	locksMu      sync.Mutex
	sessionLocks map[string]*sessionLock

	mu      sync.Mutex
	workers []*worker.Worker
	started bool
	closed  bool
}

// NewExecutor validates its collaborators and returns an executor that has
// not started consuming jobs yet.
func NewExecutor(opts Options, cfg Config, logger *slog.Logger) (*Executor, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if opts.Jobs == nil {
		return nil, fmt.Errorf("job queue cannot be nil")
	}
	if opts.Buffer == nil {
		return nil, fmt.Errorf("event buffer cannot be nil")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("task pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Status == nil {
		opts.Status = NewMemoryStatusSink()
	}

	defaults := DefaultConfig()
	if cfg.Timeout < MinTimeout {
		cfg.Timeout = MinTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Worker.Name == "" {
		cfg.Worker.Name = defaults.Worker.Name
	}
	if cfg.PersistRetryLimit < 0 {
		cfg.PersistRetryLimit = 0
	}
	if cfg.PersistRetryDelay < 0 {
		cfg.PersistRetryDelay = 0
	}
	if cfg.DefaultContextWindow <= 0 {
		cfg.DefaultContextWindow = defaults.DefaultContextWindow
	}

	return &Executor{
		cfg:          cfg,
		logger:       logger.With("component", "chat_executor"),
		pipeline:     opts.Pipeline,
		jobs:         opts.Jobs,
		buffer:       opts.Buffer,
		pool:         opts.Pool,
		messages:     opts.Messages,
		sessions:     opts.Sessions,
		status:       opts.Status,
		sessionLocks: make(map[string]*sessionLock),
	}, nil
}

// Config returns the effective configuration
func (e *Executor) Config() Config {
	return e.cfg
}

// Start launches the job workers. Calling it again is a no-op.
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExecutorClosed
	}
	if e.started {
		return nil
	}

	e.pool.Start()
	for i := 0; i < e.cfg.Workers; i++ {
		wc := e.cfg.Worker
		wc.Name = fmt.Sprintf("%s-%d", e.cfg.Worker.Name, i)
		w := worker.New(e.jobs, wc, e.logger, worker.WithHandler(e.handleJob))
		if err := w.Start(); err != nil {
			for _, started := range e.workers {
				started.Stop()
			}
			e.workers = nil
			return fmt.Errorf("failed to start worker %s: %w", wc.Name, err)
		}
		e.workers = append(e.workers, w)
	}
	e.started = true

	e.logger.Info("chat executor started", "workers", e.cfg.Workers)
	return nil
}

// Shutdown stops the workers, waits for pending persistence tasks until ctx
// ends and closes the event buffer.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()

	e.logger.Info("chat executor shutting down", "workers", len(workers))

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
	if len(workers) == 0 {
		if err := e.jobs.Close(); err != nil {
			e.logger.Warn("failed to close job queue", "error", err)
		}
	}

	var shutdownErr error
	drained := make(chan struct{})
	go func() {
		e.pool.Shutdown(true)
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		e.pool.Shutdown(false)
		shutdownErr = fmt.Errorf("pool did not drain before shutdown deadline: %w", ctx.Err())
	}

	if err := e.buffer.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("failed to close event buffer: %w", err))
	}

	e.logger.Info("chat executor stopped")
	return shutdownErr
}

// GetSessionStatus returns the last recorded status of a session
func (e *Executor) GetSessionStatus(ctx context.Context, sessionID string) (StatusRecord, bool) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return StatusRecord{}, false
	}
	record, ok, err := e.status.GetStatus(ctx, sessionID)
	if err != nil {
		e.logger.Error("failed to read session status", "session_id", sessionID, "error", err)
		return StatusRecord{}, false
	}
	return record, ok
}

// setStatus records a status unless it would move an in-flight session
// back to QUEUED.
func (e *Executor) setStatus(ctx context.Context, sessionID, requestID string, status Status) {
	if sessionID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	now := time.Now().UTC()
	current, ok, err := e.status.GetStatus(ctx, sessionID)
	if err != nil {
		e.logger.Warn("failed to read session status", "session_id", sessionID, "error", err)
		ok = false
	}
	if ok && !allowTransition(current.Status, status) {
		e.logger.Debug("ignoring status regression",
			"session_id", sessionID,
			"current", current.Status,
			"requested", status)
		return
	}

	record := StatusRecord{
		SessionID: sessionID,
		RequestID: requestID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ok && current.RequestID == requestID && !current.CreatedAt.IsZero() {
		record.CreatedAt = current.CreatedAt
	}
	if err := e.status.SetStatus(ctx, record); err != nil {
		e.logger.Warn("failed to record session status",
			"session_id", sessionID,
			"status", status,
			"error", err)
	}
}

// sessionLock is a one-slot semaphore shared by the runs of one session.
// refs counts holders and waiters; the entry is dropped when it reaches zero.
type sessionLock struct {
	sem  chan struct{}
	refs int
}

// lockSession serializes generation per session. It returns a release
// function, or ctx.Err() if ctx ends while waiting.
func (e *Executor) lockSession(ctx context.Context, sessionID string) (func(), error) {
	e.locksMu.Lock()
	lock, ok := e.sessionLocks[sessionID]
	if !ok {
		lock = &sessionLock{sem: make(chan struct{}, 1)}
		e.sessionLocks[sessionID] = lock
	}
	lock.refs++
	e.locksMu.Unlock()

	select {
	case lock.sem <- struct{}{}:
		return func() {
			<-lock.sem
			e.unrefSession(sessionID, lock)
		}, nil
	case <-ctx.Done():
		e.unrefSession(sessionID, lock)
		return nil, ctx.Err()
	}
}

func (e *Executor) unrefSession(sessionID string, lock *sessionLock) {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.sessionLocks, sessionID)
	}
}

// activeSessionLocks reports how many sessions currently hold or await a lock
func (e *Executor) activeSessionLocks() int {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	return len(e.sessionLocks)
}
