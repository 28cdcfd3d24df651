package chat

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/phrazzld/chatrelay/internal/buffer"
)

const (
	minPollTimeout       = 10 * time.Millisecond
	streamTimeoutMessage = "timed out waiting for stream events"
	streamClosedMessage  = "event stream closed before completion"
)

// StreamEvents relays the buffered events of one request. The sequence ends
// after a terminal event, after Timeout without any event, or when ctx ends.
// The request's bucket is dropped when the sequence ends.
func (e *Executor) StreamEvents(ctx context.Context, sessionID, requestID string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		log := e.logger.With("session_id", sessionID, "request_id", requestID)
		defer func() {
			if err := e.buffer.Cleanup(context.WithoutCancel(ctx), sessionID, requestID); err != nil {
				log.Warn("failed to clean up event bucket", "error", err)
			}
		}()

		pollTimeout := e.buffer.Config().DefaultTimeout
		if pollTimeout < minPollTimeout {
			pollTimeout = minPollTimeout
		}
		idleSince := time.Now()

		for {
			item, err := e.buffer.Pop(ctx, sessionID, requestID, pollTimeout)
			if ctx.Err() != nil {
				log.Debug("stream consumer went away")
				return
			}

			switch {
			case errors.Is(err, buffer.ErrInvalidEvent):
				log.Error("protocol error in event stream", "error", err)
				yield(errorEvent(sessionID, requestID, "protocol error: "+err.Error(),
					map[string]any{"error_code": CodeProtocol}))
				return

			case errors.Is(err, buffer.ErrBufferClosed):
				log.Warn("event buffer closed while streaming")
				e.setStatus(ctx, sessionID, requestID, StatusFailed)
				yield(errorEvent(sessionID, requestID, streamClosedMessage,
					map[string]any{"error_code": CodeCancelled}))
				return

			case err != nil:
				log.Error("failed to read stream event", "error", err)
				item = nil
				if !sleepCtx(ctx, pollTimeout) {
					return
				}
			}

			if item == nil {
				if time.Since(idleSince) <= e.cfg.Timeout {
					continue
				}
				log.Error("event stream timed out", "timeout", e.cfg.Timeout)
				e.setStatus(ctx, sessionID, requestID, StatusFailed)
				yield(errorEvent(sessionID, requestID, streamTimeoutMessage,
					map[string]any{"error_code": CodeStreamTimeout}))
				return
			}

			idleSince = time.Now()
			ev, err := toEvent(sessionID, item)
			if err != nil {
				log.Error("protocol error in event stream", "error", err)
				yield(errorEvent(sessionID, requestID, "protocol error: "+err.Error(),
					map[string]any{"error_code": CodeProtocol}))
				return
			}

			if !yield(ev) {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
