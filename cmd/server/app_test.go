package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/chatrelay/internal/buffer"
	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/queue"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(t.TempDir())
	require.NoError(t, err)
	cfg.Runtime.Worker.PollTimeout = 20 * time.Millisecond
	cfg.Runtime.Buffer.DefaultTimeout = 20 * time.Millisecond
	cfg.Runtime.Executor.PersistRetryDelay = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	app, err := newApplication(context.Background(), cfg, setupTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.shutdown(ctx)
		app.cleanup()
	})
	return app
}

func TestNewApplication_MemoryBackend(t *testing.T) {
	app := newTestApplication(t, newTestConfig(t))

	assert.Nil(t, app.db)
	assert.Nil(t, app.redis)
	assert.Nil(t, app.jwtService)
	assert.IsType(t, &queue.MemoryQueue{}, app.jobs)
	assert.IsType(t, &buffer.MemoryBuffer{}, app.events)
	require.NotNil(t, app.executor)
	assert.Equal(t, 2, app.executor.Config().Workers)
	assert.Equal(t, 180*time.Second, app.executor.Config().Timeout)
}

func TestNewApplication_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := newTestConfig(t)
	cfg.Runtime.Backend = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()

	app := newTestApplication(t, cfg)

	require.NotNil(t, app.redis)
	assert.IsType(t, &queue.RedisQueue{}, app.jobs)
	assert.IsType(t, &buffer.RedisBuffer{}, app.events)

	result, err := app.executor.SubmitJob(context.Background(), chat.SubmitRequest{Message: "hello"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("queue:"+cfg.Runtime.Queue.Name))
	assert.True(t, mr.Exists("chat:status:"+result.SessionID))
}

func TestNewApplication_RedisUnreachable(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Runtime.Backend = "redis"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	app, err := newApplication(context.Background(), cfg, setupTestLogger())
	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestNewApplication_ShortJWTSecret(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := newApplication(context.Background(), cfg, setupTestLogger())
	assert.Error(t, err)
}

func TestExecutorConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Runtime.Worker.Count = 3
	cfg.Runtime.Worker.MaxRetries = 2
	cfg.Runtime.Worker.RetryDelay = 100 * time.Millisecond
	cfg.Runtime.Executor.PersistRetryLimit = 5

	ec := executorConfig(cfg.Runtime)

	assert.Equal(t, 3, ec.Workers)
	assert.Equal(t, 2, ec.Worker.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, ec.Worker.RetryDelay)
	assert.Equal(t, 5, ec.PersistRetryLimit)
	assert.Equal(t, chat.DefaultConfig().DefaultContextWindow, ec.DefaultContextWindow)
}

func TestRouter_Health(t *testing.T) {
	app := newTestApplication(t, newTestConfig(t))

	w := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRouter_AuthEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Auth.JWTSecret = "a-test-secret-that-is-long-enough-for-hs256"
	app := newTestApplication(t, cfg)
	require.NotNil(t, app.jwtService)
	router := app.setupRouter()

	body := `{"message":"hello"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/jobs", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := app.jwtService.GenerateToken(context.Background(), "test-client")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/jobs", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Health stays public
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
