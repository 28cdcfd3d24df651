package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/chatrelay/internal/buffer"
	"github.com/phrazzld/chatrelay/internal/queue"
	"github.com/phrazzld/chatrelay/internal/redact"
)

const jobKind = "job"

// SubmitRequest is the input of SubmitJob
type SubmitRequest struct {
	SessionID     string
	Message       string
	ContextWindow int
}

// SubmitResult identifies a queued request
type SubmitResult struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Status    Status `json:"status"`
}

// job is the queue payload consumed by handleJob
type job struct {
	SessionID     string `json:"session_id"`
	RequestID     string `json:"request_id"`
	Message       string `json:"message"`
	ContextWindow int    `json:"context_window"`
}

type jobEnvelope struct {
	Kind  string `json:"kind"`
	Value job    `json:"value"`
}

// SubmitJob enqueues a generation request and returns its ids without
// waiting for any output.
func (e *Executor) SubmitJob(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return SubmitResult{}, fmt.Errorf("%w: message cannot be empty", ErrInvalidRequest)
	}
	if req.ContextWindow < 0 {
		return SubmitResult{}, fmt.Errorf("%w: context window cannot be negative", ErrInvalidRequest)
	}

	sessionID, err := e.resolveSession(ctx, req.SessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	contextWindow := req.ContextWindow
	if contextWindow == 0 {
		contextWindow = e.cfg.DefaultContextWindow
	}

	requestID := uuid.NewString()
	payload, err := json.Marshal(jobEnvelope{
		Kind: jobKind,
		Value: job{
			SessionID:     sessionID,
			RequestID:     requestID,
			Message:       req.Message,
			ContextWindow: contextWindow,
		},
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrJobQueueFailed, err)
	}

	if _, err := e.jobs.Put(ctx, payload, queue.UseDefault); err != nil {
		e.logger.Error("failed to enqueue chat job",
			"session_id", sessionID,
			"request_id", requestID,
			"error", err)
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrJobQueueFailed, err)
	}

	e.setStatus(ctx, sessionID, requestID, StatusQueued)
	e.logger.Info("chat job queued", "session_id", sessionID, "request_id", requestID)

	return SubmitResult{
		SessionID: sessionID,
		RequestID: requestID,
		Status:    StatusQueued,
	}, nil
}

// resolveSession creates a session when none is given and checks that a
// given one exists when a SessionStore is configured.
func (e *Executor) resolveSession(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)

	if sessionID == "" {
		if e.sessions == nil {
			return uuid.NewString(), nil
		}
		session, err := e.sessions.CreateSession(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
		return session.ID, nil
	}

	if e.sessions == nil {
		return sessionID, nil
	}
	if _, err := e.sessions.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", fmt.Errorf("%w: session_id=%s", ErrSessionNotFound, sessionID)
		}
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	return sessionID, nil
}

func decodeJob(payload []byte) (job, error) {
	var env jobEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return job{}, err
	}
	if env.Kind != jobKind {
		return job{}, fmt.Errorf("unexpected payload kind %q", env.Kind)
	}
	j := env.Value
	j.SessionID = strings.TrimSpace(j.SessionID)
	j.RequestID = strings.TrimSpace(j.RequestID)
	if j.SessionID == "" || j.RequestID == "" {
		return job{}, fmt.Errorf("session_id and request_id are required")
	}
	return j, nil
}

// handleJob is the worker handler. Generation failures are reported as
// error events, so only an undecodable payload returns an error.
func (e *Executor) handleJob(ctx context.Context, item *queue.Item) error {
	j, err := decodeJob(item.Payload)
	if err != nil {
		e.logger.Error("dropping invalid chat job", "item_id", item.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	log := e.logger.With("session_id", j.SessionID, "request_id", j.RequestID)
	pushCtx := context.WithoutCancel(ctx)
	emit := func(ev buffer.StreamEventItem) bool {
		ev.RequestID = j.RequestID
		if _, err := e.buffer.Push(pushCtx, j.SessionID, j.RequestID, ev); err != nil {
			log.Error("failed to push stream event", "event", ev.Event, "error", err)
		}
		return true
	}

	e.run(ctx, log, j.SessionID, j.RequestID, j.Message, j.ContextWindow, emit)
	return nil
}

// schedulePersist stores a completed reply on the task pool
func (e *Executor) schedulePersist(log *slog.Logger, sessionID, requestID string, res runResult) {
	if e.messages == nil {
		return
	}
	if strings.TrimSpace(res.content) == "" {
		log.Warn("skipping assistant message persistence", "reason", "empty_content")
		return
	}

	msg := Message{
		SessionID: sessionID,
		RequestID: requestID,
		Role:      RoleAssistant,
		Content:   res.content,
		Metadata: mergeMetadata(res.metadata, map[string]any{
			"request_id": requestID,
			"node":       res.node,
		}),
	}

	_, err := e.pool.SubmitWithMetadata(
		map[string]any{"session_id": sessionID, "request_id": requestID},
		e.persistTask,
		msg,
	)
	if err != nil {
		log.Error("failed to schedule assistant message persistence", "error", err)
	}
}

// persistTask runs on the pool and retries PersistRetryLimit times
func (e *Executor) persistTask(ctx context.Context, args ...any) (any, error) {
	msg, ok := args[0].(Message)
	if !ok {
		return nil, fmt.Errorf("unexpected persistence argument %T", args[0])
	}
	log := e.logger.With("session_id", msg.SessionID, "request_id", msg.RequestID)

	for attempt := 0; ; attempt++ {
		saved, err := e.messages.PersistAssistantMessage(ctx, msg)
		if err == nil {
			if saved {
				log.Info("assistant message persisted")
			} else {
				log.Info("assistant message already persisted")
			}
			return saved, nil
		}

		if attempt >= e.cfg.PersistRetryLimit {
			log.Error("failed to persist assistant message",
				"attempts", attempt+1,
				"error", redact.Error(err))
			return nil, err
		}

		log.Warn("retrying assistant message persistence",
			"attempt", attempt+1,
			"error", redact.Error(err))

		if e.cfg.PersistRetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.PersistRetryDelay):
			}
		}
	}
}
