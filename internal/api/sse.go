package api

import (
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
	"github.com/phrazzld/chatrelay/internal/redact"
)

// sseWriter frames events as server-sent events and flushes each one
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// write sends one "data: <json>" frame
func (s *sseWriter) write(ev chat.Event) error {
	if ev.ErrorMessage != "" {
		ev.ErrorMessage = redact.Message(ev.ErrorMessage)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// relay copies events to the client until the sequence ends or a write
// fails. Breaking out of the range abandons the producer.
func relay(w http.ResponseWriter, r *http.Request, events iter.Seq[chat.Event]) {
	log := logger.FromContextOrDefault(r.Context(), nil)

	sse, ok := newSSEWriter(w)
	if !ok {
		HandleAPIError(w, r, fmt.Errorf("response writer does not support streaming"))
		return
	}

	sent := 0
	for ev := range events {
		if err := sse.write(ev); err != nil {
			log.Debug("stream client went away", "error", err, "events_sent", sent)
			return
		}
		sent++
	}
	log.Debug("stream finished", "events_sent", sent)
}
