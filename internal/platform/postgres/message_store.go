package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
	"github.com/phrazzld/chatrelay/internal/store"
)

const (
	ensureSessionQuery = `
		INSERT INTO chat_sessions (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`

	insertMessageQuery = `
		INSERT INTO chat_messages (id, session_id, request_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertAssistantQuery = insertMessageQuery + `
		ON CONFLICT (request_id) WHERE role = 'assistant' DO NOTHING`

	listMessagesQuery = `
		SELECT id, session_id, request_id, role, content, metadata, created_at
		FROM (
			SELECT id, session_id, request_id, role, content, metadata, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`
)

// PostgresMessageStore implements chat.MessageStore
type PostgresMessageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresMessageStore creates a message store on db. When db can begin
// transactions, each write and its session touch run in one transaction.
func NewPostgresMessageStore(db store.DBTX, logger *slog.Logger) *PostgresMessageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresMessageStore{
		db:     db,
		logger: logger.With("component", "message_store"),
	}
}

var _ chat.MessageStore = (*PostgresMessageStore)(nil)

// AppendMessage stores msg, creating its session row when missing
func (s *PostgresMessageStore) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	msg, err := prepareMessage(msg)
	if err != nil {
		return chat.Message{}, err
	}

	err = s.inTx(ctx, func(ctx context.Context, db store.DBTX) error {
		_, err := s.insert(ctx, db, insertMessageQuery, msg)
		return err
	})
	if err != nil {
		log.Error("failed to append message",
			"session_id", msg.SessionID,
			"role", msg.Role,
			"error", err)
		return chat.Message{}, store.NewStoreError("message", "append", "insert failed", MapError(err))
	}

	log.Debug("message appended", "session_id", msg.SessionID, "message_id", msg.ID)
	return msg, nil
}

// PersistAssistantMessage stores the reply for msg.RequestID once. A unique
// partial index on (request_id) for assistant rows makes repeats a no-op.
func (s *PostgresMessageStore) PersistAssistantMessage(ctx context.Context, msg chat.Message) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	msg.Role = chat.RoleAssistant
	if strings.TrimSpace(msg.RequestID) == "" {
		return false, fmt.Errorf("%w: request id is required", store.ErrInvalidEntity)
	}
	msg, err := prepareMessage(msg)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = s.inTx(ctx, func(ctx context.Context, db store.DBTX) error {
		n, err := s.insert(ctx, db, insertAssistantQuery, msg)
		inserted = n > 0
		return err
	})
	if err != nil {
		log.Error("failed to persist assistant message",
			"session_id", msg.SessionID,
			"request_id", msg.RequestID,
			"error", err)
		return false, store.NewStoreError("message", "persist", "insert failed", MapError(err))
	}
	return inserted, nil
}

// ListMessages returns the latest limit messages of a session, oldest first
func (s *PostgresMessageStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var bound any
	if limit > 0 {
		bound = limit
	}

	rows, err := s.db.QueryContext(ctx, listMessagesQuery, sessionID, bound)
	if err != nil {
		log.Error("failed to list messages", "session_id", sessionID, "error", err)
		return nil, store.NewStoreError("message", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var messages []chat.Message
	for rows.Next() {
		var (
			msg  chat.Message
			id   uuid.UUID
			role string
			meta []byte
		)
		if err := rows.Scan(&id, &msg.SessionID, &msg.RequestID, &role, &msg.Content, &meta, &msg.CreatedAt); err != nil {
			return nil, store.NewStoreError("message", "list", "scan failed", err)
		}
		msg.ID = id.String()
		msg.Role = chat.Role(role)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
				log.Warn("ignoring unreadable message metadata", "message_id", msg.ID, "error", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("message", "list", "row iteration failed", err)
	}
	return messages, nil
}

// insert touches the session row and inserts msg, returning rows affected
func (s *PostgresMessageStore) insert(ctx context.Context, db store.DBTX, query string, msg chat.Message) (int64, error) {
	if _, err := db.ExecContext(ctx, ensureSessionQuery, msg.SessionID, msg.CreatedAt); err != nil {
		return 0, err
	}

	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: metadata: %v", store.ErrInvalidEntity, err)
	}
	if msg.Metadata == nil {
		meta = []byte("{}")
	}

	result, err := db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.RequestID, string(msg.Role), msg.Content, meta, msg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// inTx runs fn in a transaction when the store owns a pool, or directly on
// the caller's transaction otherwise.
func (s *PostgresMessageStore) inTx(ctx context.Context, fn func(ctx context.Context, db store.DBTX) error) error {
	beginner, ok := s.db.(store.TxBeginner)
	if !ok {
		return fn(ctx, s.db)
	}
	return store.RunInTransaction(ctx, beginner, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, tx)
	})
}

func prepareMessage(msg chat.Message) (chat.Message, error) {
	if strings.TrimSpace(msg.SessionID) == "" {
		return msg, fmt.Errorf("%w: session id is required", store.ErrInvalidEntity)
	}
	switch msg.Role {
	case chat.RoleUser, chat.RoleAssistant:
	default:
		return msg, fmt.Errorf("%w: unknown role %q", store.ErrInvalidEntity, msg.Role)
	}
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg, nil
}
