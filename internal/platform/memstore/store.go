package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
	"github.com/phrazzld/chatrelay/internal/store"
)

// Store keeps sessions and messages in memory. It implements both
// chat.MessageStore and chat.SessionStore.
type Store struct {
	logger *slog.Logger

	mu        sync.RWMutex
	sessions  map[string]chat.Session
	messages  map[string][]chat.Message
	assistant map[string]string // request id -> message id
}

// New creates an empty Store
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:    logger.With("component", "memory_store"),
		sessions:  make(map[string]chat.Session),
		messages:  make(map[string][]chat.Message),
		assistant: make(map[string]string),
	}
}

var (
	_ chat.MessageStore = (*Store)(nil)
	_ chat.SessionStore = (*Store)(nil)
)

// CreateSession implements chat.SessionStore
func (s *Store) CreateSession(ctx context.Context) (chat.Session, error) {
	session := chat.Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	logger.FromContextOrDefault(ctx, s.logger).Debug("session created", "session_id", session.ID)
	return session, nil
}

// GetSession implements chat.SessionStore
func (s *Store) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return session, nil
}

// AppendMessage implements chat.MessageStore. Appending to an unknown
// session registers it.
func (s *Store) AppendMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	if err := validate(msg); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg), nil
}

// PersistAssistantMessage implements chat.MessageStore. The second call for
// the same request id stores nothing and reports false.
func (s *Store) PersistAssistantMessage(ctx context.Context, msg chat.Message) (bool, error) {
	msg.Role = chat.RoleAssistant
	if err := validate(msg); err != nil {
		return false, err
	}
	if strings.TrimSpace(msg.RequestID) == "" {
		return false, fmt.Errorf("%w: request id is required", store.ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assistant[msg.RequestID]; ok {
		logger.FromContextOrDefault(ctx, s.logger).Debug("assistant message already stored",
			"request_id", msg.RequestID,
			"message_id", existing)
		return false, nil
	}
	stored := s.appendLocked(msg)
	s.assistant[msg.RequestID] = stored.ID
	return true, nil
}

// ListMessages implements chat.MessageStore
func (s *Store) ListMessages(_ context.Context, sessionID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.messages[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]chat.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *Store) appendLocked(msg chat.Message) chat.Message {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.sessions[msg.SessionID]; !ok {
		s.sessions[msg.SessionID] = chat.Session{ID: msg.SessionID, CreatedAt: msg.CreatedAt}
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg
}

func validate(msg chat.Message) error {
	if strings.TrimSpace(msg.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", store.ErrInvalidEntity)
	}
	switch msg.Role {
	case chat.RoleUser, chat.RoleAssistant:
	default:
		return fmt.Errorf("%w: unknown role %q", store.ErrInvalidEntity, msg.Role)
	}
	return nil
}
