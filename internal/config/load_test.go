package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "memory", cfg.Runtime.Backend)
	assert.Equal(t, 2, cfg.Runtime.Worker.Count)
	assert.Equal(t, 3*time.Second, cfg.Runtime.Worker.StopTimeout)
	assert.Equal(t, 4, cfg.Runtime.Pool.MaxWorkers)
	assert.Equal(t, 10*time.Minute, cfg.Runtime.Buffer.TTL)
	assert.Equal(t, 30*time.Second, cfg.Runtime.Buffer.GCInterval)
	assert.Equal(t, "chat:stream", cfg.Runtime.Buffer.KeyPrefix)
	assert.Equal(t, 180*time.Second, cfg.Runtime.Executor.Timeout)
	assert.Equal(t, 2, cfg.Runtime.Executor.PersistRetryLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Runtime.Executor.PersistRetryDelay)
	assert.Equal(t, time.Hour, cfg.Auth.TokenLifetime)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "9090")
	t.Setenv("RELAY_SERVER_LOG_LEVEL", "debug")
	t.Setenv("RELAY_RUNTIME_BACKEND", "redis")
	t.Setenv("RELAY_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RELAY_RUNTIME_WORKER_RETRY_DELAY", "250ms")
	t.Setenv("RELAY_RUNTIME_EXECUTOR_TIMEOUT", "30s")
	t.Setenv("RELAY_AUTH_JWT_SECRET", "thisisasecretkeythatis32charslong!!")

	cfg, err := LoadFrom(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "redis", cfg.Runtime.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Runtime.Worker.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Runtime.Executor.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 7070
runtime:
  buffer:
    ttl: 1m
    key_prefix: test:stream
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	// Environment wins over the file
	t.Setenv("RELAY_SERVER_PORT", "6060")

	cfg, err := LoadFrom(dir)

	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Runtime.Buffer.TTL)
	assert.Equal(t, "test:stream", cfg.Runtime.Buffer.KeyPrefix)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "invalid port",
			env:  map[string]string{"RELAY_SERVER_PORT": "70000"},
		},
		{
			name: "invalid log level",
			env:  map[string]string{"RELAY_SERVER_LOG_LEVEL": "verbose"},
		},
		{
			name: "unknown backend",
			env:  map[string]string{"RELAY_RUNTIME_BACKEND": "kafka"},
		},
		{
			name: "redis backend without url",
			env:  map[string]string{"RELAY_RUNTIME_BACKEND": "redis"},
		},
		{
			name: "short jwt secret",
			env:  map[string]string{"RELAY_AUTH_JWT_SECRET": "short"},
		},
		{
			name: "executor timeout below one second",
			env:  map[string]string{"RELAY_RUNTIME_EXECUTOR_TIMEOUT": "500ms"},
		},
		{
			name: "zero workers",
			env:  map[string]string{"RELAY_RUNTIME_WORKER_COUNT": "0"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadFrom(t.TempDir())

			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
