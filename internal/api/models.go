package api

import "strings"

// SubmitJobRequest is the body of POST /api/chat/jobs
type SubmitJobRequest struct {
	SessionID     string `json:"session_id,omitempty" validate:"omitempty,max=128"`
	Message       string `json:"message"              validate:"required,max=32000"`
	ContextWindow int    `json:"context_window"       validate:"gte=0,lte=500"`
}

// StreamMessageRequest is the body of the direct streaming endpoint
type StreamMessageRequest struct {
	Message       string `json:"message"        validate:"required,max=32000"`
	ContextWindow int    `json:"context_window" validate:"gte=0,lte=500"`
}

// normalize trims the free-text fields so whitespace-only input fails
// the required check
func (r *SubmitJobRequest) normalize() {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Message = strings.TrimSpace(r.Message)
}

func (r *StreamMessageRequest) normalize() {
	r.Message = strings.TrimSpace(r.Message)
}
