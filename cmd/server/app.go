package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/chatrelay/internal/buffer"
	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/platform/gemini"
	"github.com/phrazzld/chatrelay/internal/platform/memstore"
	"github.com/phrazzld/chatrelay/internal/platform/postgres"
	"github.com/phrazzld/chatrelay/internal/platform/redisstore"
	"github.com/phrazzld/chatrelay/internal/pool"
	"github.com/phrazzld/chatrelay/internal/queue"
	"github.com/phrazzld/chatrelay/internal/service/auth"
	"github.com/phrazzld/chatrelay/internal/worker"
)

// statusTTL bounds how long a Redis status record outlives its last update
const statusTTL = 24 * time.Hour

// application holds the shared dependencies and releases them on cleanup
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	// jwtService is nil when authentication is disabled
	jwtService auth.JWTService

	jobs     queue.Queue
	events   buffer.EventBuffer
	pool     *pool.Pool
	executor *chat.Executor
}

// newApplication wires stores, runtime components and the executor from
// cfg. The executor is built but not started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	if cfg.Auth.JWTSecret != "" {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		logger.Info("bearer token authentication enabled", "token_lifetime", cfg.Auth.TokenLifetime)
	} else {
		logger.Warn("bearer token authentication disabled: no JWT secret configured")
	}

	messages, sessions, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}

	pipeline, err := setupPipeline(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	backend := cfg.Runtime.Backend
	var status chat.StatusSink
	if backend == string(queue.BackendRedis) {
		app.redis, err = setupRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		status = redisstore.NewStatusSink(app.redis, redisstore.DefaultStatusPrefix, statusTTL, logger)
	}

	app.jobs, err = queue.New(queue.Options{
		Backend: queue.Backend(backend),
		Name:    cfg.Runtime.Queue.Name,
		Client:  redisClient(app.redis),
		Config: queue.Config{
			MaxSize:        cfg.Runtime.Queue.MaxSize,
			DefaultTimeout: cfg.Runtime.Queue.DefaultTimeout,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	app.events, err = buffer.New(buffer.Backend(backend), redisClient(app.redis), buffer.Config{
		MaxSize:        cfg.Runtime.Buffer.MaxSize,
		DefaultTimeout: cfg.Runtime.Buffer.DefaultTimeout,
		TTL:            cfg.Runtime.Buffer.TTL,
		GCInterval:     cfg.Runtime.Buffer.GCInterval,
		KeyPrefix:      cfg.Runtime.Buffer.KeyPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event buffer: %w", err)
	}

	app.pool = pool.New(pool.Config{
		MaxWorkers: cfg.Runtime.Pool.MaxWorkers,
		NamePrefix: "chat-pool",
	}, logger)

	app.executor, err = chat.NewExecutor(chat.Options{
		Pipeline: pipeline,
		Jobs:     app.jobs,
		Buffer:   app.events,
		Pool:     app.pool,
		Messages: messages,
		Sessions: sessions,
		Status:   status,
	}, executorConfig(cfg.Runtime), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat executor: %w", err)
	}

	logger.Info("application initialized", "backend", backend)
	return app, nil
}

// setupStores picks Postgres when a database URL is set and the in-memory
// store otherwise
func (app *application) setupStores(ctx context.Context) (chat.MessageStore, chat.SessionStore, error) {
	if app.config.Database.URL == "" {
		app.logger.Warn("no database configured: conversation history is kept in memory")
		mem := memstore.New(app.logger)
		return mem, mem, nil
	}

	db, err := setupAppDatabase(ctx, app.config.Database, app.logger)
	if err != nil {
		return nil, nil, err
	}
	app.db = db
	return postgres.NewPostgresMessageStore(db, app.logger), postgres.NewPostgresSessionStore(db, app.logger), nil
}

// setupPipeline builds the Gemini pipeline, or the echo pipeline when no
// API key is configured
func setupPipeline(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (chat.Pipeline, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("no Gemini API key configured: using echo pipeline")
		return chat.EchoPipeline{}, nil
	}
	p, err := gemini.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini pipeline: %w", err)
	}
	logger.Info("Gemini pipeline initialized", "model", cfg.ModelName)
	return p, nil
}

func executorConfig(rt config.RuntimeConfig) chat.Config {
	cfg := chat.DefaultConfig()
	cfg.Timeout = rt.Executor.Timeout
	cfg.PersistRetryLimit = rt.Executor.PersistRetryLimit
	cfg.PersistRetryDelay = rt.Executor.PersistRetryDelay
	cfg.Workers = rt.Worker.Count
	cfg.Worker = worker.Config{
		Name:        "chat-worker",
		PollTimeout: rt.Worker.PollTimeout,
		MaxRetries:  rt.Worker.MaxRetries,
		StopOnError: rt.Worker.StopOnError,
		RetryDelay:  rt.Worker.RetryDelay,
		StopTimeout: rt.Worker.StopTimeout,
	}
	return cfg
}

// redisClient keeps a nil *redis.Client from becoming a non-nil interface
func redisClient(c *redis.Client) redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}

// shutdown stops the executor, waiting for pending persistence until ctx ends
func (app *application) shutdown(ctx context.Context) error {
	if app.executor == nil {
		return nil
	}
	return app.executor.Shutdown(ctx)
}

// cleanup releases connections. It is safe to call on a partially built
// application.
func (app *application) cleanup() {
	var errs []error
	if app.executor == nil {
		if app.pool != nil {
			app.pool.Shutdown(false)
		}
		if app.events != nil {
			errs = append(errs, app.events.Close())
		}
		if app.jobs != nil {
			errs = append(errs, app.jobs.Close())
		}
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
		app.redis = nil
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
		app.db = nil
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn("cleanup finished with errors", "error", err)
	}
}
