// Package langchain adapts langchaingo chat models to the engine's model port.
package langchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/goop/internal/logging"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/aretw0/goop/pkg/schema"
	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyResponse is returned when the model answers without a choice.
var ErrEmptyResponse = errors.New("model returned no choices")

// Backend implements ports.ModelBackend on top of an llms.Model.
type Backend struct {
	llm    llms.Model
	opts   []llms.CallOption
	logger *slog.Logger
}

// Option configures the Backend.
type Option func(*Backend)

// WithCallOptions appends options to every request.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(b *Backend) {
		b.opts = append(b.opts, opts...)
	}
}

// WithLogger sets the backend logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New wraps an llms.Model.
func New(llm llms.Model, opts ...Option) *Backend {
	b := &Backend{llm: llm, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ ports.ModelBackend = (*Backend)(nil)

// Complete sends the conversation and the action descriptors to the model.
// When onChunk is set, text and tool-call deltas are forwarded as they
// arrive and a finish chunk closes the stream.
func (b *Backend) Complete(ctx context.Context, req ports.ModelRequest, onChunk ports.ChunkFunc) (domain.Message, error) {
	opts := append([]llms.CallOption(nil), b.opts...)
	if len(req.Actions) > 0 {
		opts = append(opts, llms.WithTools(Tools(req.Actions)))
	}

	var st *streamState
	if onChunk != nil {
		st = &streamState{onChunk: onChunk}
		opts = append(opts, llms.WithStreamingFunc(st.handle))
	}

	b.logger.Debug("Calling model", "messages", len(req.Messages), "actions", len(req.Actions))
	resp, err := b.llm.GenerateContent(ctx, Messages(req.Messages), opts...)
	if err != nil {
		return domain.Message{}, err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return domain.Message{}, ErrEmptyResponse
	}

	msg, err := assistantMessage(resp.Choices[0])
	if err != nil {
		return domain.Message{}, err
	}
	if st != nil && st.seen {
		if err := st.finish(ctx, msg); err != nil {
			return domain.Message{}, err
		}
	}
	return msg, nil
}

// Tools converts action descriptors to function tools.
func Tools(actions []domain.ActionDescriptor) []llms.Tool {
	tools := make([]llms.Tool, 0, len(actions))
	for _, a := range actions {
		params := any(a.Schema)
		if a.Schema == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        a.Name,
				Description: a.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// Messages converts a conversation to langchaingo message content.
func Messages(history []domain.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Text))
		case domain.RoleHuman:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Text))
		case domain.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Text != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Text})
			}
			for _, c := range m.ActionCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   c.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      c.Name,
						Arguments: c.ArgumentsJSON(),
					},
				})
			}
			out = append(out, mc)
		case domain.RoleActionResult:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ActionCallID,
					Name:       m.ActionName,
					Content:    m.Text,
				}},
			})
		}
	}
	return out
}

func assistantMessage(choice *llms.ContentChoice) (domain.Message, error) {
	var calls []domain.ActionCall
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args, err := parseArguments(tc.FunctionCall.Arguments)
		if err != nil {
			return domain.Message{}, fmt.Errorf("malformed arguments for %s: %w", tc.FunctionCall.Name, err)
		}
		calls = append(calls, domain.ActionCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: args})
	}
	if len(calls) == 0 && choice.FuncCall != nil {
		args, err := parseArguments(choice.FuncCall.Arguments)
		if err != nil {
			return domain.Message{}, fmt.Errorf("malformed arguments for %s: %w", choice.FuncCall.Name, err)
		}
		calls = append(calls, domain.ActionCall{Name: choice.FuncCall.Name, Arguments: args})
	}
	return domain.AssistantMessage("", choice.Content, calls...), nil
}

func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	return schema.ParseArguments(raw)
}

// toolDelta is one element of a streamed tool-call chunk.
type toolDelta struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (d toolDelta) empty() bool {
	return d.Index == nil && d.ID == "" && d.Type == "" && d.Function.Name == "" && d.Function.Arguments == ""
}

// parseToolDeltas reports whether chunk is a JSON array of tool-call deltas.
func parseToolDeltas(chunk []byte) ([]toolDelta, bool) {
	trimmed := strings.TrimSpace(string(chunk))
	if !strings.HasPrefix(trimmed, "[{") {
		return nil, false
	}
	var deltas []toolDelta
	if err := json.Unmarshal([]byte(trimmed), &deltas); err != nil {
		return nil, false
	}
	for _, d := range deltas {
		if d.empty() {
			return nil, false
		}
	}
	return deltas, true
}

type streamState struct {
	onChunk ports.ChunkFunc
	seen    bool
	calls   int // number of distinct calls streamed so far
	current int
}

func (s *streamState) handle(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.seen = true
	if deltas, ok := parseToolDeltas(chunk); ok {
		for _, d := range deltas {
			switch {
			case d.Index != nil:
				s.current = *d.Index
				if s.current >= s.calls {
					s.calls = s.current + 1
				}
			case d.ID != "":
				s.current = s.calls
				s.calls++
			case s.calls == 0:
				s.calls = 1
			}
			err := s.onChunk(ctx, domain.ModelChunk{Chunk: &domain.ActionCallChunk{
				Index:     s.current,
				CallID:    d.ID,
				Name:      d.Function.Name,
				Arguments: d.Function.Arguments,
			}})
			if err != nil {
				return err
			}
		}
		return nil
	}
	return s.onChunk(ctx, domain.ModelChunk{Content: string(chunk)})
}

// finish reports calls the provider did not stream, then the finish reason.
func (s *streamState) finish(ctx context.Context, msg domain.Message) error {
	for i := s.calls; i < len(msg.ActionCalls); i++ {
		c := msg.ActionCalls[i]
		err := s.onChunk(ctx, domain.ModelChunk{Chunk: &domain.ActionCallChunk{
			Index:     i,
			CallID:    c.ID,
			Name:      c.Name,
			Arguments: c.ArgumentsJSON(),
		}})
		if err != nil {
			return err
		}
	}
	reason := domain.FinishStop
	if msg.HasActions() {
		reason = domain.FinishToolCalls
	}
	return s.onChunk(ctx, domain.ModelChunk{Finish: reason})
}
