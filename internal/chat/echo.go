package chat

import (
	"context"
	"iter"
	"strings"
	"time"
)

// EchoPipeline streams the user's message back word by word. It stands in
// for a model when no LLM credentials are configured.
type EchoPipeline struct {
	// Delay is slept between tokens
	Delay time.Duration
}

var _ Pipeline = EchoPipeline{}

// Stream implements Pipeline
func (p EchoPipeline) Stream(ctx context.Context, req GenerateRequest) iter.Seq2[PipelineEvent, error] {
	return func(yield func(PipelineEvent, error) bool) {
		words := strings.Fields(req.Message)
		var sb strings.Builder
		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			if p.Delay > 0 {
				select {
				case <-ctx.Done():
					yield(PipelineEvent{}, ctx.Err())
					return
				case <-time.After(p.Delay):
				}
			}
			sb.WriteString(word)
			if !yield(PipelineEvent{Kind: PipelineToken, Node: "echo", Data: word}, nil) {
				return
			}
		}
		yield(PipelineEvent{Kind: PipelineDone, Node: "echo", Data: sb.String()}, nil)
	}
}
