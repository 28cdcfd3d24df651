package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/chatrelay/internal/chat"
)

// DefaultStatusPrefix namespaces status keys
const DefaultStatusPrefix = "chat:status"

// StatusSink implements chat.StatusSink with one JSON string per session
// stored under "<prefix>:<session_id>".
type StatusSink struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewStatusSink creates a sink. A ttl of zero keeps records forever.
func NewStatusSink(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *StatusSink {
	if prefix == "" {
		prefix = DefaultStatusPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl < 0 {
		ttl = 0
	}
	return &StatusSink{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "redis_status_sink"),
	}
}

var _ chat.StatusSink = (*StatusSink)(nil)

// Key returns the Redis key for a session
func (s *StatusSink) Key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// SetStatus overwrites the session's record
func (s *StatusSink) SetStatus(ctx context.Context, record chat.StatusRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session status: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(record.SessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session status: %w", err)
	}
	return nil
}

// GetStatus loads the session's record
func (s *StatusSink) GetStatus(ctx context.Context, sessionID string) (chat.StatusRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.StatusRecord{}, false, nil
	}
	if err != nil {
		return chat.StatusRecord{}, false, fmt.Errorf("failed to load session status: %w", err)
	}

	var record chat.StatusRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		s.logger.Warn("discarding unreadable session status", "session_id", sessionID, "error", err)
		return chat.StatusRecord{}, false, nil
	}
	return record, true, nil
}
