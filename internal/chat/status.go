package chat

import (
	"context"
	"sync"
)

// MemoryStatusSink keeps session statuses in process
type MemoryStatusSink struct {
	mu      sync.RWMutex
	records map[string]StatusRecord
}

// NewMemoryStatusSink creates an empty sink
func NewMemoryStatusSink() *MemoryStatusSink {
	return &MemoryStatusSink{records: make(map[string]StatusRecord)}
}

var _ StatusSink = (*MemoryStatusSink)(nil)

// SetStatus stores record as the latest status of its session
func (s *MemoryStatusSink) SetStatus(_ context.Context, record StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.SessionID] = record
	return nil
}

// GetStatus returns the latest status of a session
func (s *MemoryStatusSink) GetStatus(_ context.Context, sessionID string) (StatusRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sessionID]
	return record, ok, nil
}

// allowTransition refuses to move an in-flight session back to QUEUED
func allowTransition(current, next Status) bool {
	if next != StatusQueued {
		return true
	}
	return current != StatusRunning && current != StatusStreaming
}
