package chat

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// pipelineFunc adapts a function to the Pipeline interface
type pipelineFunc func(ctx context.Context, req GenerateRequest) iter.Seq2[PipelineEvent, error]

func (f pipelineFunc) Stream(ctx context.Context, req GenerateRequest) iter.Seq2[PipelineEvent, error] {
	return f(ctx, req)
}

// scriptedPipeline yields events in order, then err if set
func scriptedPipeline(events []PipelineEvent, err error) Pipeline {
	return pipelineFunc(func(_ context.Context, _ GenerateRequest) iter.Seq2[PipelineEvent, error] {
		return func(yield func(PipelineEvent, error) bool) {
			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
			if err != nil {
				yield(PipelineEvent{}, err)
			}
		}
	})
}

// blockingPipeline waits for ctx to end and reports its error
func blockingPipeline() Pipeline {
	return pipelineFunc(func(ctx context.Context, _ GenerateRequest) iter.Seq2[PipelineEvent, error] {
		return func(yield func(PipelineEvent, error) bool) {
			<-ctx.Done()
			yield(PipelineEvent{}, ctx.Err())
		}
	})
}

// panickingPipeline yields one token and then panics
func panickingPipeline() Pipeline {
	return pipelineFunc(func(_ context.Context, _ GenerateRequest) iter.Seq2[PipelineEvent, error] {
		return func(yield func(PipelineEvent, error) bool) {
			if !yield(PipelineEvent{Kind: PipelineToken, Data: "partial"}, nil) {
				return
			}
			panic("pipeline blew up")
		}
	})
}

// MockMessageStore is an in-memory MessageStore with injectable failures
type MockMessageStore struct {
	mu          sync.Mutex
	messages    []Message
	persisted   map[string]bool
	persistErrs int
	attempts    int

	PersistFn func(ctx context.Context, msg Message) (bool, error)
}

func NewMockMessageStore() *MockMessageStore {
	return &MockMessageStore{persisted: make(map[string]bool)}
}

func (m *MockMessageStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *MockMessageStore) PersistAssistantMessage(ctx context.Context, msg Message) (bool, error) {
	if m.PersistFn != nil {
		return m.PersistFn(ctx, msg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.persistErrs > 0 {
		m.persistErrs--
		return false, errors.New("database unavailable")
	}
	if m.persisted[msg.RequestID] {
		return false, nil
	}
	m.persisted[msg.RequestID] = true
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, msg)
	return true, nil
}

func (m *MockMessageStore) ListMessages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MockMessageStore) byRole(role Role) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockMessageStore) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// MockSessionStore knows a fixed set of sessions
type MockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMockSessionStore(ids ...string) *MockSessionStore {
	s := &MockSessionStore{sessions: make(map[string]Session)}
	for _, id := range ids {
		s.sessions[id] = Session{ID: id, CreatedAt: time.Now().UTC()}
	}
	return s
}

func (s *MockSessionStore) CreateSession(_ context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *MockSessionStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}
