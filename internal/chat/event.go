package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/chatrelay/internal/buffer"
)

// EventType tags a wire event
type EventType string

// Wire event types
const (
	EventStart EventType = buffer.EventStart
	EventToken EventType = buffer.EventToken
	EventDone  EventType = buffer.EventDone
	EventError EventType = buffer.EventError
)

// Status is the coarse state of a session's latest request
type Status string

// Session statuses
const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusStreaming Status = "STREAMING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Nodes used for events the executor synthesizes itself
const (
	NodeExecutor = "executor"
	NodeResponse = "response"
)

const defaultFailureMessage = "response generation failed"

// Event is one message relayed to a streaming client
type Event struct {
	SessionID    string         `json:"session_id"`
	RequestID    string         `json:"request_id"`
	Type         EventType      `json:"type"`
	Node         string         `json:"node"`
	Content      string         `json:"content"`
	Status       Status         `json:"status,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether the event ends a stream
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// errorEvent builds a synthetic terminal error
func errorEvent(sessionID, requestID, message string, metadata map[string]any) Event {
	return Event{
		SessionID:    sessionID,
		RequestID:    requestID,
		Type:         EventError,
		Node:         NodeExecutor,
		Content:      "",
		Status:       StatusFailed,
		ErrorMessage: message,
		Metadata:     metadata,
	}
}

// toEvent converts a buffered item into its wire form
func toEvent(sessionID string, item *buffer.StreamEventItem) (Event, error) {
	kind := EventType(strings.TrimSpace(item.Event))
	switch kind {
	case EventStart, EventToken, EventDone, EventError:
	default:
		return Event{}, fmt.Errorf("unsupported event type %q", item.Event)
	}
	requestID := strings.TrimSpace(item.RequestID)
	if requestID == "" {
		return Event{}, fmt.Errorf("request id is empty")
	}
	node := strings.TrimSpace(item.Node)
	if node == "" {
		return Event{}, fmt.Errorf("node is empty")
	}

	ev := Event{
		SessionID: sessionID,
		RequestID: requestID,
		Type:      kind,
		Node:      node,
		Content:   contentText(item.Data),
		Metadata:  item.Metadata,
	}
	switch kind {
	case EventDone:
		ev.Status = StatusCompleted
	case EventError:
		ev.Status = StatusFailed
		ev.ErrorMessage = ev.Content
		if ev.ErrorMessage == "" {
			ev.ErrorMessage = defaultFailureMessage
		}
		ev.Content = ""
	}
	return ev, nil
}

func contentText(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

func mergeMetadata(base map[string]any, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
