package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/phrazzld/chatrelay/internal/chat"
	"github.com/phrazzld/chatrelay/internal/config"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream records the request and replays canned responses
type fakeStream struct {
	responses []*genai.GenerateContentResponse
	err       error

	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func (f *fakeStream) stream(
	_ context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.model = model
	f.contents = contents
	f.cfg = cfg
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.responses {
			if !yield(r, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func collect(t *testing.T, seq iter.Seq2[chat.PipelineEvent, error]) ([]chat.PipelineEvent, error) {
	t.Helper()
	var events []chat.PipelineEvent
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{ModelName: "gemini-test", SystemPrompt: "be brief"}
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(context.Background(), config.LLMConfig{ModelName: "m"}, setupTestLogger())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPipeline(context.Background(), config.LLMConfig{GeminiAPIKey: "key"}, setupTestLogger())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPipeline_StreamsTokensThenDone(t *testing.T) {
	fake := &fakeStream{responses: []*genai.GenerateContentResponse{
		textResponse("Hel"),
		{},
		textResponse("lo"),
	}}
	p := newPipeline(fake.stream, testConfig(), setupTestLogger())

	req := chat.GenerateRequest{
		SessionID: "s1",
		RequestID: "r1",
		Message:   "hi",
		History: []chat.Message{
			{Role: chat.RoleUser, Content: "earlier question"},
			{Role: chat.RoleAssistant, Content: "earlier answer"},
			{Role: chat.RoleUser, Content: "   "},
		},
	}
	events, err := collect(t, p.Stream(context.Background(), req))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, chat.PipelineEvent{Kind: chat.PipelineToken, Node: Node, Data: "Hel"}, events[0])
	assert.Equal(t, "lo", events[1].Data)
	assert.Equal(t, chat.PipelineDone, events[2].Kind)
	assert.Equal(t, "Hello", events[2].Data)
	assert.Equal(t, "gemini-test", events[2].Metadata["model"])

	assert.Equal(t, "gemini-test", fake.model)
	require.Len(t, fake.contents, 3)
	assert.Equal(t, "user", fake.contents[0].Role)
	assert.Equal(t, "model", fake.contents[1].Role)
	assert.Equal(t, "hi", fake.contents[2].Parts[0].Text)
	require.NotNil(t, fake.cfg)
	assert.Equal(t, "be brief", fake.cfg.SystemInstruction.Parts[0].Text)
}

func TestPipeline_NoSystemPrompt(t *testing.T) {
	fake := &fakeStream{}
	p := newPipeline(fake.stream, config.LLMConfig{ModelName: "m"}, setupTestLogger())

	events, err := collect(t, p.Stream(context.Background(), chat.GenerateRequest{Message: "hi"}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, chat.PipelineDone, events[0].Kind)
	assert.Nil(t, fake.cfg)
}

func TestPipeline_EmptyMessage(t *testing.T) {
	fake := &fakeStream{}
	p := newPipeline(fake.stream, testConfig(), setupTestLogger())

	_, err := collect(t, p.Stream(context.Background(), chat.GenerateRequest{Message: " "}))
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Nil(t, fake.contents)
}

func TestPipeline_SafetyBlock(t *testing.T) {
	fake := &fakeStream{responses: []*genai.GenerateContentResponse{
		textResponse("partial"),
		{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}},
	}}
	p := newPipeline(fake.stream, testConfig(), setupTestLogger())

	events, err := collect(t, p.Stream(context.Background(), chat.GenerateRequest{Message: "hi"}))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, chat.PipelineError, events[1].Kind)
	assert.Equal(t, CodeRejected, events[1].Metadata["error_code"])
	assert.Equal(t, "SAFETY", events[1].Metadata["reason"])
}

func TestPipeline_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, CodeRateLimited},
		{"server error", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, CodeUnavailable},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, CodeRejected},
		{"transport", errors.New("dial tcp: connection refused"), CodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeStream{responses: []*genai.GenerateContentResponse{textResponse("a")}, err: tt.err}
			p := newPipeline(fake.stream, testConfig(), setupTestLogger())

			events, err := collect(t, p.Stream(context.Background(), chat.GenerateRequest{Message: "hi"}))
			assert.Len(t, events, 1)

			var coded *chat.CodedError
			require.ErrorAs(t, err, &coded)
			assert.Equal(t, tt.code, coded.Code)
		})
	}
}

func TestPipeline_ContextErrorsPassThrough(t *testing.T) {
	fake := &fakeStream{err: context.DeadlineExceeded}
	p := newPipeline(fake.stream, testConfig(), setupTestLogger())

	_, err := collect(t, p.Stream(context.Background(), chat.GenerateRequest{Message: "hi"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
