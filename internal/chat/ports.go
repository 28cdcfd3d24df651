package chat

import (
	"context"
	"iter"
	"time"
)

// Role identifies the author of a stored message
type Role string

// Message roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one stored turn of a conversation
type Message struct {
	ID        string
	SessionID string
	RequestID string
	Role      Role
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Session is a conversation container
type Session struct {
	ID        string
	CreatedAt time.Time
}

// StatusRecord is the last coarse status recorded for a session
type StatusRecord struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pipeline event kinds
const (
	PipelineToken = "token"
	PipelineDone  = "done"
	PipelineError = "error"
)

// PipelineEvent is one fragment produced by a Pipeline.
// Kinds other than token, done and error are ignored.
type PipelineEvent struct {
	Kind     string
	Node     string
	Data     string
	Metadata map[string]any
}

// GenerateRequest is the input handed to a Pipeline
type GenerateRequest struct {
	SessionID     string
	RequestID     string
	Message       string
	ContextWindow int
	History       []Message
}

// Pipeline produces response fragments for a request. A non-nil error in
// the sequence aborts generation.
type Pipeline interface {
	Stream(ctx context.Context, req GenerateRequest) iter.Seq2[PipelineEvent, error]
}

// MessageStore persists conversation history
type MessageStore interface {
	// AppendMessage stores a message and returns it with ID and CreatedAt set
	AppendMessage(ctx context.Context, msg Message) (Message, error)

	// PersistAssistantMessage stores the assistant reply for msg.RequestID
	// at most once. It reports false when the reply was already stored.
	PersistAssistantMessage(ctx context.Context, msg Message) (bool, error)

	// ListMessages returns up to limit most recent messages, oldest first.
	// A limit of zero or less returns the whole history.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// SessionStore creates and resolves sessions.
// GetSession returns ErrSessionNotFound for unknown ids.
type SessionStore interface {
	CreateSession(ctx context.Context) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

// StatusSink records the coarse status of each session
type StatusSink interface {
	SetStatus(ctx context.Context, record StatusRecord) error
	GetStatus(ctx context.Context, sessionID string) (StatusRecord, bool, error)
}
