package chat

import (
	"errors"
	"fmt"
)

// Common errors returned by the chat package
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrJobQueueFailed  = errors.New("failed to enqueue chat job")
	ErrInvalidRequest  = errors.New("invalid chat request")
	ErrInvalidJob      = errors.New("invalid chat job payload")
	ErrExecutorClosed  = errors.New("chat executor is shut down")
)

// Error codes attached to error events as metadata["error_code"]
const (
	CodeStreamTimeout     = "CHAT_STREAM_TIMEOUT"
	CodeMissingCompletion = "CHAT_STREAM_INCOMPLETE"
	CodeProtocol          = "CHAT_STREAM_PROTOCOL"
	CodePipeline          = "CHAT_PIPELINE_FAILED"
)

// CodedError is a failure with a stable code that is safe to surface to a
// streaming client. Pipelines may return it to control the error event.
type CodedError struct {
	Code    string
	Message string
	Cause   string
}

// Error formats the message with its cause, when one is present
func (e *CodedError) Error() string {
	if e.Cause == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (cause=%s)", e.Message, e.Cause)
}

// NewCodedError builds a CodedError
func NewCodedError(code, message, cause string) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// errorCode returns the code of a CodedError anywhere in err's chain
func errorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
