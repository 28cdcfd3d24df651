package api

import (
	"context"
	"iter"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/chatrelay/internal/api/shared"
	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
)

// ChatService is the part of chat.Executor the handlers use
type ChatService interface {
	SubmitJob(ctx context.Context, req chat.SubmitRequest) (chat.SubmitResult, error)
	StreamEvents(ctx context.Context, sessionID, requestID string) iter.Seq[chat.Event]
	RunStream(ctx context.Context, sessionID, message string, contextWindow int) iter.Seq[chat.Event]
	GetSessionStatus(ctx context.Context, sessionID string) (chat.StatusRecord, bool)
}

var _ ChatService = (*chat.Executor)(nil)

// ChatHandler serves the /api/chat routes
type ChatHandler struct {
	chat ChatService
}

// NewChatHandler creates a ChatHandler
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{chat: svc}
}

// Routes mounts the chat endpoints on r
func (h *ChatHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.SubmitJob)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/requests/{request_id}/events", h.StreamEvents)
		r.Post("/messages/stream", h.StreamMessage)
		r.Get("/status", h.GetStatus)
	})
}

// SubmitJob handles POST /api/chat/jobs
func (h *ChatHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	req.normalize()
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	result, err := h.chat.SubmitJob(r.Context(), chat.SubmitRequest{
		SessionID:     req.SessionID,
		Message:       req.Message,
		ContextWindow: req.ContextWindow,
	})
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	logger.FromContextOrDefault(r.Context(), nil).Info("chat job accepted",
		"session_id", result.SessionID,
		"request_id", result.RequestID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, result)
}

// StreamEvents handles GET /api/chat/sessions/{session_id}/requests/{request_id}/events
func (h *ChatHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathParam(w, r, "session_id")
	if !ok {
		return
	}
	requestID, ok := pathParam(w, r, "request_id")
	if !ok {
		return
	}
	relay(w, r, h.chat.StreamEvents(r.Context(), sessionID, requestID))
}

// StreamMessage handles POST /api/chat/sessions/{session_id}/messages/stream
func (h *ChatHandler) StreamMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathParam(w, r, "session_id")
	if !ok {
		return
	}

	var req StreamMessageRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	req.normalize()
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	relay(w, r, h.chat.RunStream(r.Context(), sessionID, req.Message, req.ContextWindow))
}

// GetStatus handles GET /api/chat/sessions/{session_id}/status
func (h *ChatHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathParam(w, r, "session_id")
	if !ok {
		return
	}

	record, found := h.chat.GetSessionStatus(r.Context(), sessionID)
	if !found {
		HandleAPIError(w, r, chat.ErrSessionNotFound)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, record)
}

// pathParam reads a required chi URL parameter, replying 400 when blank
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid "+name+": required field")
		return "", false
	}
	return value, true
}
