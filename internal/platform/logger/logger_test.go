package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := ParseLevel(tc.input)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestSetup(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	l, err := Setup(config.ServerConfig{LogLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Same(t, l, slog.Default())
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetup_InvalidLevelWarns(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &Buffer{}
	l := setup(buf, "chatty")

	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))

	entry, ok := buf.Find("invalid log level configured, using default level")
	require.True(t, ok)
	assert.Equal(t, "chatty", entry["configured_level"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestContextHelpers(t *testing.T) {
	_, captured := NewCapture()
	fallback := slog.New(slog.Default().Handler())

	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Same(t, fallback, FromContextOrDefault(ctx, fallback))
	assert.NotNil(t, FromContextOrDefault(ctx, nil))

	ctx = WithLogger(ctx, captured)
	assert.Same(t, captured, FromContext(ctx))
	assert.Same(t, captured, FromContextOrDefault(ctx, fallback))
}

func TestBuffer_Entries(t *testing.T) {
	buf, l := NewCapture()

	l.Info("first", "key", "value")
	l.Error("second")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0]["msg"])
	assert.Equal(t, "value", entries[0]["key"])
	assert.Equal(t, "ERROR", entries[1]["level"])

	_, ok := buf.Find("missing")
	assert.False(t, ok)
}
