package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
	"github.com/phrazzld/chatrelay/internal/store"
)

// PostgresSessionStore implements chat.SessionStore
type PostgresSessionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSessionStore creates a session store on db, which may be a
// connection pool or a transaction.
func NewPostgresSessionStore(db store.DBTX, logger *slog.Logger) *PostgresSessionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSessionStore{
		db:     db,
		logger: logger.With("component", "session_store"),
	}
}

var _ chat.SessionStore = (*PostgresSessionStore)(nil)

// CreateSession inserts a new session with a random id
func (s *PostgresSessionStore) CreateSession(ctx context.Context) (chat.Session, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	session := chat.Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, created_at, updated_at) VALUES ($1, $2, $2)`,
		session.ID, session.CreatedAt)
	if err != nil {
		log.Error("failed to create session", "error", err)
		return chat.Session{}, store.NewStoreError("session", "create", "insert failed", MapError(err))
	}

	log.Debug("session created", "session_id", session.ID)
	return session, nil
}

// GetSession loads a session by id
func (s *PostgresSessionStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var session chat.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM chat_sessions WHERE id = $1`,
		sessionID).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, chat.ErrSessionNotFound
		}
		log.Error("failed to get session", "session_id", sessionID, "error", err)
		return chat.Session{}, store.NewStoreError("session", "get", "query failed", MapError(err))
	}
	return session, nil
}
