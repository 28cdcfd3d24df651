package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/phrazzld/chatrelay/internal/chat"
)

// Errors returned while building a Pipeline
var (
	ErrInvalidConfig = errors.New("invalid gemini configuration")
	ErrEmptyMessage  = errors.New("message cannot be empty")
)

// Error codes attached to failed generations
const (
	CodeRateLimited = "LLM_RATE_LIMITED"
	CodeRejected    = "LLM_REQUEST_REJECTED"
	CodeUnavailable = "LLM_UNAVAILABLE"
	CodeFailed      = "LLM_FAILED"
)

// classify maps a Gemini client error onto a chat.CodedError
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return chat.NewCodedError(CodeFailed, "model request failed", err.Error())
	}

	cause := fmt.Sprintf("status=%d %s", apiErr.Code, apiErr.Status)
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return chat.NewCodedError(CodeRateLimited, "model rate limit reached", cause)
	case apiErr.Code >= 500:
		return chat.NewCodedError(CodeUnavailable, "model service unavailable", cause)
	case apiErr.Code >= 400:
		return chat.NewCodedError(CodeRejected, "model rejected the request", cause)
	default:
		return chat.NewCodedError(CodeFailed, "model request failed", cause)
	}
}
