package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/chatrelay/internal/buffer"
	"github.com/phrazzld/chatrelay/internal/redact"
)

const (
	missingCompletionMessage = "stream finished without a completion event"
	cancelledMessage         = "generation was cancelled before completion"
	timeoutMessage           = "streaming response exceeded the time limit"
	pipelinePanicMessage     = "response pipeline failed unexpectedly"
)

// CodeCancelled marks generations abandoned by a shutdown or disconnect
const CodeCancelled = "CHAT_GENERATION_CANCELLED"

// emitFunc delivers one internal event. It returns false once the receiver
// has gone away.
type emitFunc func(item buffer.StreamEventItem) bool

// runResult summarizes one pass over the pipeline
type runResult struct {
	tokens    int
	done      bool
	failed    bool
	abandoned bool
	err       error
	node      string
	content   string
	metadata  map[string]any
}

// RunStream drives the pipeline on the calling goroutine and yields wire
// events as they are produced. Stopping the iteration early, or cancelling
// ctx, abandons the generation.
func (e *Executor) RunStream(ctx context.Context, sessionID, message string, contextWindow int) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		requestID := uuid.NewString()
		log := e.logger.With("session_id", sessionID, "request_id", requestID)

		stopped := false
		emit := func(item buffer.StreamEventItem) bool {
			if stopped {
				return false
			}
			item.RequestID = requestID
			ev, err := toEvent(sessionID, &item)
			if err != nil {
				log.Error("dropping malformed stream event", "error", err)
				return true
			}
			if !yield(ev) {
				stopped = true
				return false
			}
			return true
		}

		e.run(ctx, log, sessionID, requestID, message, contextWindow, emit)
	}
}

// run is shared by RunStream and the worker-side job handler
func (e *Executor) run(
	ctx context.Context,
	log *slog.Logger,
	sessionID, requestID, message string,
	contextWindow int,
	emit emitFunc,
) {
	started := time.Now()
	e.setStatus(ctx, sessionID, requestID, StatusRunning)
	log.Info("chat generation started")

	if !emit(buffer.StreamEventItem{Event: buffer.EventStart, Node: NodeExecutor, Data: ""}) {
		e.finish(ctx, log, sessionID, requestID, runResult{abandoned: true}, started, emit)
		return
	}

	release, err := e.lockSession(ctx, sessionID)
	if err != nil {
		e.finish(ctx, log, sessionID, requestID, runResult{abandoned: true}, started, emit)
		return
	}
	defer release()

	req := e.prepare(ctx, log, sessionID, requestID, message, contextWindow)
	res := e.drive(ctx, req, emit)
	e.finish(ctx, log, sessionID, requestID, res, started, emit)
}

// prepare loads history and records the user's message
func (e *Executor) prepare(
	ctx context.Context,
	log *slog.Logger,
	sessionID, requestID, message string,
	contextWindow int,
) GenerateRequest {
	if contextWindow <= 0 {
		contextWindow = e.cfg.DefaultContextWindow
	}
	req := GenerateRequest{
		SessionID:     sessionID,
		RequestID:     requestID,
		Message:       message,
		ContextWindow: contextWindow,
	}
	if e.messages == nil {
		return req
	}

	history, err := e.messages.ListMessages(ctx, sessionID, contextWindow)
	if err != nil {
		log.Warn("failed to load conversation history", "error", redact.Error(err))
	}
	req.History = history

	_, err = e.messages.AppendMessage(ctx, Message{
		SessionID: sessionID,
		RequestID: requestID,
		Role:      RoleUser,
		Content:   message,
	})
	if err != nil {
		log.Warn("failed to store user message", "error", redact.Error(err))
	}
	return req
}

// drive consumes the pipeline, normalizes its events and emits them until
// a terminal event, an error, the timeout or the receiver going away.
func (e *Executor) drive(ctx context.Context, req GenerateRequest, emit emitFunc) runResult {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var res runResult
	e.consume(runCtx, req, started, emit, &res)

	if res.done || res.failed {
		return res
	}
	if ctx.Err() != nil {
		res.abandoned = true
		res.err = nil
		return res
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.err = e.timeoutError(time.Since(started))
	}
	return res
}

// consume ranges over the pipeline stream. A panic raised by the pipeline
// is recorded as a pipeline error; one raised while emitting propagates.
func (e *Executor) consume(
	runCtx context.Context,
	req GenerateRequest,
	started time.Time,
	emit emitFunc,
	res *runResult,
) {
	emitting := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if emitting {
			panic(r)
		}
		e.logger.Error("pipeline panicked",
			"session_id", req.SessionID,
			"request_id", req.RequestID,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()))
		res.err = NewCodedError(CodePipeline, pipelinePanicMessage, fmt.Sprint(r))
	}()

	var text strings.Builder
	for pe, err := range e.pipeline.Stream(runCtx, req) {
		if err != nil {
			res.err = err
			break
		}
		if elapsed := time.Since(started); elapsed > e.cfg.Timeout {
			res.err = e.timeoutError(elapsed)
			break
		}

		item, ok := normalizePipelineEvent(pe)
		if !ok {
			continue
		}

		switch item.Event {
		case buffer.EventToken:
			res.tokens++
			text.WriteString(item.Data.(string))
			if res.tokens == 1 {
				e.setStatus(runCtx, req.SessionID, req.RequestID, StatusStreaming)
			}
		case buffer.EventDone:
			res.done = true
			res.node = item.Node
			res.content = item.Data.(string)
			if strings.TrimSpace(res.content) == "" {
				res.content = text.String()
			}
			res.metadata = mergeMetadata(item.Metadata, map[string]any{"token_count": res.tokens})
			item.Metadata = res.metadata
			item.Data = ""
			e.setStatus(runCtx, req.SessionID, req.RequestID, StatusCompleted)
		case buffer.EventError:
			res.failed = true
			e.setStatus(runCtx, req.SessionID, req.RequestID, StatusFailed)
		}

		emitting = true
		delivered := emit(item)
		emitting = false
		if !delivered {
			res.abandoned = true
			break
		}
		if item.Event == buffer.EventDone || item.Event == buffer.EventError {
			break
		}
	}
}

// finish emits the terminal event the pipeline failed to produce, records
// status and schedules persistence of a completed reply.
func (e *Executor) finish(
	ctx context.Context,
	log *slog.Logger,
	sessionID, requestID string,
	res runResult,
	started time.Time,
	emit emitFunc,
) {
	elapsed := time.Since(started)

	switch {
	case res.done:
		e.schedulePersist(log, sessionID, requestID, res)
		log.Info("chat generation completed",
			"elapsed_ms", elapsed.Milliseconds(),
			"token_count", res.tokens)

	case res.failed:
		log.Error("chat generation failed",
			"cause", "pipeline_error_event",
			"elapsed_ms", elapsed.Milliseconds())

	case res.err != nil:
		code := errorCode(res.err)
		if code == "" {
			code = CodePipeline
		}
		log.Error("chat generation failed",
			"code", code,
			"error", redact.Error(res.err),
			"elapsed_ms", elapsed.Milliseconds())
		e.setStatus(ctx, sessionID, requestID, StatusFailed)
		emit(failureItem(redact.Message(res.err.Error()), code))

	case res.abandoned:
		log.Warn("chat generation cancelled", "elapsed_ms", elapsed.Milliseconds())
		e.setStatus(ctx, sessionID, requestID, StatusFailed)
		emit(failureItem(cancelledMessage, CodeCancelled))

	default:
		log.Error("chat generation failed",
			"cause", "done_missing",
			"token_count", res.tokens)
		e.setStatus(ctx, sessionID, requestID, StatusFailed)
		emit(failureItem(missingCompletionMessage, CodeMissingCompletion))
	}
}

func (e *Executor) timeoutError(elapsed time.Duration) error {
	return NewCodedError(CodeStreamTimeout, timeoutMessage,
		fmt.Sprintf("elapsed=%.3fs, timeout=%.3fs", elapsed.Seconds(), e.cfg.Timeout.Seconds()))
}

func failureItem(message, code string) buffer.StreamEventItem {
	return buffer.StreamEventItem{
		Event:    buffer.EventError,
		Node:     NodeExecutor,
		Data:     message,
		Metadata: map[string]any{"error_code": code},
	}
}

// normalizePipelineEvent maps a pipeline event onto an internal event.
// Empty tokens and unknown kinds are dropped.
func normalizePipelineEvent(pe PipelineEvent) (buffer.StreamEventItem, bool) {
	node := strings.TrimSpace(pe.Node)
	switch strings.TrimSpace(pe.Kind) {
	case PipelineToken:
		if pe.Data == "" {
			return buffer.StreamEventItem{}, false
		}
		if node == "" {
			node = NodeResponse
		}
		return buffer.StreamEventItem{Event: buffer.EventToken, Node: node, Data: pe.Data, Metadata: pe.Metadata}, true
	case PipelineDone:
		if node == "" {
			node = NodeResponse
		}
		return buffer.StreamEventItem{Event: buffer.EventDone, Node: node, Data: pe.Data, Metadata: pe.Metadata}, true
	case PipelineError:
		if node == "" {
			node = NodeExecutor
		}
		return buffer.StreamEventItem{
			Event:    buffer.EventError,
			Node:     node,
			Data:     redact.Message(pe.Data),
			Metadata: pe.Metadata,
		}, true
	default:
		return buffer.StreamEventItem{}, false
	}
}
