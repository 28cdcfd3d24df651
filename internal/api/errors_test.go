package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/chatrelay/internal/api/shared"
	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/service/auth"
	"github.com/phrazzld/chatrelay/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedMsg    string
	}{
		{"nil", nil, http.StatusInternalServerError, "An unexpected error occurred"},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "Token expired"},
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized, "Invalid token"},
		{
			"wrapped session not found",
			fmt.Errorf("%w: session_id=abc", chat.ErrSessionNotFound),
			http.StatusNotFound,
			"Session not found",
		},
		{"store not found", store.ErrNotFound, http.StatusNotFound, "Resource not found"},
		{
			"invalid request",
			fmt.Errorf("%w: message cannot be empty", chat.ErrInvalidRequest),
			http.StatusBadRequest,
			"Invalid chat request",
		},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest, "Invalid entity data"},
		{"empty body", shared.ErrEmptyBody, http.StatusBadRequest, "Request body is required"},
		{"duplicate", store.ErrDuplicate, http.StatusConflict, "Resource already exists"},
		{
			"queue failure",
			fmt.Errorf("%w: queue full", chat.ErrJobQueueFailed),
			http.StatusServiceUnavailable,
			"Chat service is busy, try again later",
		},
		{"shut down", chat.ErrExecutorClosed, http.StatusServiceUnavailable, "Chat service is shutting down"},
		{
			"unknown error keeps details private",
			errors.New("pq: relation chat_messages does not exist"),
			http.StatusInternalServerError,
			"An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, MapErrorToStatusCode(tt.err))
			assert.Equal(t, tt.expectedMsg, GetSafeErrorMessage(tt.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	err := shared.ValidateRequest(SubmitJobRequest{})
	assert.Equal(t, "Invalid message: required field", SanitizeValidationError(err))

	err = shared.ValidateRequest(SubmitJobRequest{Message: "hi", ContextWindow: -1})
	assert.Equal(t, "Invalid context_window: too small", SanitizeValidationError(err))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("something else")))
}
