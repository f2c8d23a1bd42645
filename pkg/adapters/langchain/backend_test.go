package langchain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/goop/pkg/adapters/langchain"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeLLM records the request and replays scripted stream chunks.
type fakeLLM struct {
	chunks   []string
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range opts {
		opt(&f.options)
	}
	if f.options.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.options.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return f.resp, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, opts...)
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func toolResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: calls}}}
}

var deleteDescriptor = domain.ActionDescriptor{
	Name:        "deleteFile",
	Description: "Deletes a file",
	Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
	},
}

func TestBackend_ConvertsConversation(t *testing.T) {
	llm := &fakeLLM{resp: textResponse("ok")}
	b := langchain.New(llm, langchain.WithCallOptions(llms.WithMaxTokens(64)))

	history := []domain.Message{
		domain.SystemMessage("be nice"),
		domain.HumanMessage("remove /tmp/x"),
		domain.AssistantMessage("m1", "sure", domain.ActionCall{ID: "c1", Name: "deleteFile", Arguments: map[string]any{"path": "/tmp/x"}}),
		domain.ActionResultMessage("deleted", "deleteFile", "c1"),
	}
	msg, err := b.Complete(context.Background(), ports.ModelRequest{Messages: history, Actions: []domain.ActionDescriptor{deleteDescriptor}}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	assert.Equal(t, "ok", msg.Text)

	require.Len(t, llm.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.messages[1].Role)

	ai := llm.messages[2]
	assert.Equal(t, llms.ChatMessageTypeAI, ai.Role)
	require.Len(t, ai.Parts, 2)
	call, ok := ai.Parts[1].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "c1", call.ID)
	assert.JSONEq(t, `{"path":"/tmp/x"}`, call.FunctionCall.Arguments)

	tool := llm.messages[3]
	assert.Equal(t, llms.ChatMessageTypeTool, tool.Role)
	resp, ok := tool.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "c1", resp.ToolCallID)
	assert.Equal(t, "deleted", resp.Content)

	require.Len(t, llm.options.Tools, 1)
	assert.Equal(t, "deleteFile", llm.options.Tools[0].Function.Name)
	assert.Equal(t, 64, llm.options.MaxTokens)
	assert.Nil(t, llm.options.StreamingFunc)
}

func TestBackend_ParsesToolCalls(t *testing.T) {
	llm := &fakeLLM{resp: toolResponse(llms.ToolCall{
		ID:           "c1",
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: "deleteFile", Arguments: `{"path":"/tmp/x"}`},
	})}
	msg, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, msg.ActionCalls, 1)
	assert.Equal(t, "c1", msg.ActionCalls[0].ID)
	assert.Equal(t, "/tmp/x", msg.ActionCalls[0].Arguments["path"])
	assert.Empty(t, llm.options.Tools)
}

func TestBackend_MalformedArguments(t *testing.T) {
	llm := &fakeLLM{resp: toolResponse(llms.ToolCall{
		ID:           "c1",
		FunctionCall: &llms.FunctionCall{Name: "deleteFile", Arguments: `{"path":`},
	})}
	_, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, nil)
	assert.ErrorContains(t, err, "malformed arguments for deleteFile")
}

func TestBackend_Errors(t *testing.T) {
	boom := errors.New("rate limited")
	_, err := langchain.New(&fakeLLM{err: boom}).Complete(context.Background(), ports.ModelRequest{}, nil)
	assert.ErrorIs(t, err, boom)

	_, err = langchain.New(&fakeLLM{resp: &llms.ContentResponse{}}).Complete(context.Background(), ports.ModelRequest{}, nil)
	assert.ErrorIs(t, err, langchain.ErrEmptyResponse)
}

func collect(chunks *[]domain.ModelChunk) ports.ChunkFunc {
	return func(_ context.Context, ch domain.ModelChunk) error {
		*chunks = append(*chunks, ch)
		return nil
	}
}

func TestBackend_StreamsText(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"Hel", "lo"}, resp: textResponse("Hello")}
	var got []domain.ModelChunk

	msg, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Text)
	assert.Equal(t, []domain.ModelChunk{
		{Content: "Hel"},
		{Content: "lo"},
		{Finish: domain.FinishStop},
	}, got)
}

func TestBackend_StreamsToolDeltas(t *testing.T) {
	llm := &fakeLLM{
		chunks: []string{
			`[{"id":"c1","type":"function","function":{"name":"deleteFile","arguments":""}}]`,
			`[{"function":{"arguments":"{\"path\":"}}]`,
			`[{"function":{"arguments":"\"/tmp/x\"}"}}]`,
		},
		resp: toolResponse(llms.ToolCall{
			ID:           "c1",
			FunctionCall: &llms.FunctionCall{Name: "deleteFile", Arguments: `{"path":"/tmp/x"}`},
		}),
	}
	var got []domain.ModelChunk

	_, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, collect(&got))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, &domain.ActionCallChunk{Index: 0, CallID: "c1", Name: "deleteFile"}, got[0].Chunk)
	assert.Equal(t, `{"path":`, got[1].Chunk.Arguments)
	assert.Equal(t, 0, got[2].Chunk.Index)
	assert.Equal(t, domain.FinishToolCalls, got[3].Finish)
}

func TestBackend_ReportsUnstreamedCalls(t *testing.T) {
	llm := &fakeLLM{
		chunks: []string{"Deleting."},
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			Content: "Deleting.",
			ToolCalls: []llms.ToolCall{{
				ID:           "c1",
				FunctionCall: &llms.FunctionCall{Name: "deleteFile", Arguments: `{"path":"/tmp/x"}`},
			}},
		}}},
	}
	var got []domain.ModelChunk

	_, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, collect(&got))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Deleting.", got[0].Content)
	assert.Equal(t, "deleteFile", got[1].Chunk.Name)
	assert.JSONEq(t, `{"path":"/tmp/x"}`, got[1].Chunk.Arguments)
	assert.Equal(t, domain.FinishToolCalls, got[2].Finish)
}

func TestBackend_TextThatLooksLikeJSON(t *testing.T) {
	llm := &fakeLLM{chunks: []string{`[{"a":1}]`}, resp: textResponse(`[{"a":1}]`)}
	var got []domain.ModelChunk

	_, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, `[{"a":1}]`, got[0].Content)
}

func TestBackend_StreamAbort(t *testing.T) {
	stop := errors.New("stop")
	llm := &fakeLLM{chunks: []string{"a", "b"}, resp: textResponse("ab")}
	calls := 0
	_, err := langchain.New(llm).Complete(context.Background(), ports.ModelRequest{}, func(context.Context, domain.ModelChunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestNewModel(t *testing.T) {
	_, err := langchain.NewModel(langchain.Config{Provider: "nope"})
	assert.ErrorContains(t, err, "unsupported model provider")

	m, err := langchain.NewModel(langchain.Config{Provider: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = langchain.NewModel(langchain.Config{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	opts := langchain.Config{Temperature: 0.2, MaxTokens: 100}.CallOptions()
	var co llms.CallOptions
	for _, o := range opts {
		o(&co)
	}
	assert.Equal(t, 0.2, co.Temperature)
	assert.Equal(t, 100, co.MaxTokens)
}
