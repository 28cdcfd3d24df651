package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/config"
)

// Node names the pipeline stage in relayed events
const Node = "gemini"

// streamFunc is the shape of genai's Models.GenerateContentStream
type streamFunc func(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) iter.Seq2[*genai.GenerateContentResponse, error]

// Pipeline implements chat.Pipeline on top of the Gemini API
type Pipeline struct {
	logger       *slog.Logger
	model        string
	systemPrompt string
	stream       streamFunc
}

var _ chat.Pipeline = (*Pipeline)(nil)

// NewPipeline creates a Gemini client from cfg
func NewPipeline(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Pipeline, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newPipeline(client.Models.GenerateContentStream, cfg, logger), nil
}

func newPipeline(stream streamFunc, cfg config.LLMConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:       logger.With("component", "gemini_pipeline", "model", cfg.ModelName),
		model:        cfg.ModelName,
		systemPrompt: cfg.SystemPrompt,
		stream:       stream,
	}
}

// Stream implements chat.Pipeline
func (p *Pipeline) Stream(ctx context.Context, req chat.GenerateRequest) iter.Seq2[chat.PipelineEvent, error] {
	return func(yield func(chat.PipelineEvent, error) bool) {
		if strings.TrimSpace(req.Message) == "" {
			yield(chat.PipelineEvent{}, ErrEmptyMessage)
			return
		}

		log := p.logger.With("session_id", req.SessionID, "request_id", req.RequestID)
		log.DebugContext(ctx, "calling gemini", "history_len", len(req.History))

		var text strings.Builder
		chunks := 0
		for resp, err := range p.stream(ctx, p.model, buildContents(req), p.generateConfig()) {
			if err != nil {
				log.WarnContext(ctx, "gemini stream failed", "chunks", chunks, "error", err)
				yield(chat.PipelineEvent{}, classify(err))
				return
			}
			if resp == nil {
				continue
			}
			if reason, blocked := blockReason(resp); blocked {
				log.WarnContext(ctx, "gemini response blocked", "reason", reason)
				yield(chat.PipelineEvent{
					Kind:     chat.PipelineError,
					Node:     Node,
					Data:     "response blocked by safety filters",
					Metadata: map[string]any{"error_code": CodeRejected, "reason": reason},
				}, nil)
				return
			}

			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			chunks++
			text.WriteString(chunk)
			if !yield(chat.PipelineEvent{Kind: chat.PipelineToken, Node: Node, Data: chunk}, nil) {
				return
			}
		}

		log.DebugContext(ctx, "gemini stream finished", "chunks", chunks)
		yield(chat.PipelineEvent{
			Kind:     chat.PipelineDone,
			Node:     Node,
			Data:     text.String(),
			Metadata: map[string]any{"model": p.model},
		}, nil)
	}
}

func (p *Pipeline) generateConfig() *genai.GenerateContentConfig {
	if p.systemPrompt == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.systemPrompt, genai.RoleUser),
	}
}

// buildContents maps history onto Gemini roles and appends the new message
func buildContents(req chat.GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
}

func blockReason(resp *genai.GenerateContentResponse) (string, bool) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason), true
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		switch c.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonBlocklist,
			genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
			return string(c.FinishReason), true
		}
	}
	return "", false
}
