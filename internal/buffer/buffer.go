package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Common errors returned by EventBuffer implementations
var (
	ErrBufferFull   = errors.New("event buffer is full")
	ErrBufferClosed = errors.New("event buffer is closed")
	ErrInvalidEvent = errors.New("invalid stream event")
)

// UseDefault asks Pop to wait for the buffer's configured DefaultTimeout
const UseDefault time.Duration = -1

// Internal event kinds carried by StreamEventItem.Event
const (
	EventStart = "start"
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// Config holds buffer capacity, blocking and expiry settings
type Config struct {
	// MaxSize bounds each bucket. Zero means unbounded.
	MaxSize int

	// DefaultTimeout is used by Pop when called with UseDefault, and bounds
	// how long Push waits on a full bucket.
	DefaultTimeout time.Duration

	// TTL expires buckets that have not been written for this long.
	// Zero disables expiry.
	TTL time.Duration

	// GCInterval is how often MemoryBuffer sweeps for expired buckets
	GCInterval time.Duration

	// KeyPrefix namespaces RedisBuffer keys
	KeyPrefix string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:        0,
		DefaultTimeout: time.Second,
		TTL:            10 * time.Minute,
		GCInterval:     30 * time.Second,
		KeyPrefix:      "chat:stream",
	}
}

// StreamEventItem is one internal event stored in a bucket
type StreamEventItem struct {
	ID        string         `json:"item_id"`
	Event     string         `json:"event"`
	Data      any            `json:"data"`
	Node      string         `json:"node"`
	RequestID string         `json:"request_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventBuffer is a set of FIFO buckets keyed by session and request id
type EventBuffer interface {
	// Push validates and appends an event to the bucket, creating it on demand.
	// The stored item, with ID and CreatedAt stamped, is returned.
	Push(ctx context.Context, sessionID, requestID string, event StreamEventItem) (StreamEventItem, error)

	// Pop removes the next event, waiting up to timeout for one to arrive.
	// A nil item with a nil error means nothing arrived in time. Once the
	// buffer is closed and the bucket drained, Pop returns ErrBufferClosed.
	Pop(ctx context.Context, sessionID, requestID string, timeout time.Duration) (*StreamEventItem, error)

	// Size reports the number of events waiting in a bucket
	Size(ctx context.Context, sessionID, requestID string) (int, error)

	// Cleanup drops a bucket and everything in it
	Cleanup(ctx context.Context, sessionID, requestID string) error

	// Close releases background resources and wakes blocked callers
	Close() error

	// Config returns the buffer configuration
	Config() Config
}

// Backend names an EventBuffer implementation
type Backend string

// Supported backends
const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// New builds the EventBuffer named by backend
func New(backend Backend, client redis.UniversalClient, cfg Config, logger *slog.Logger) (EventBuffer, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryBuffer(cfg, logger), nil
	case BackendRedis:
		if client == nil {
			return nil, errors.New("redis event buffer requires a client")
		}
		return NewRedisBuffer(client, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown event buffer backend %q", backend)
	}
}

// normalize validates an event against its bucket and stamps missing fields
func normalize(requestID string, event StreamEventItem) (StreamEventItem, error) {
	event.Event = strings.TrimSpace(event.Event)
	event.Node = strings.TrimSpace(event.Node)

	if strings.TrimSpace(requestID) == "" {
		return event, fmt.Errorf("%w: request id cannot be empty", ErrInvalidEvent)
	}
	if event.Event == "" {
		return event, fmt.Errorf("%w: event cannot be empty", ErrInvalidEvent)
	}
	if event.Node == "" {
		return event, fmt.Errorf("%w: node cannot be empty", ErrInvalidEvent)
	}
	if event.RequestID == "" {
		event.RequestID = requestID
	}
	if event.RequestID != requestID {
		return event, fmt.Errorf("%w: request id %q does not match bucket %q",
			ErrInvalidEvent, event.RequestID, requestID)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return event, nil
}

func resolveTimeout(timeout, fallback time.Duration) time.Duration {
	if timeout < 0 {
		if fallback < 0 {
			return 0
		}
		return fallback
	}
	return timeout
}

func applyDefaults(cfg Config) Config {
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultConfig().GCInterval
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return cfg
}
