package runtime_test

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/adapters/memory"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/aretw0/goop/pkg/registry"
	"github.com/aretw0/goop/pkg/session"
)

// reply is one scripted model response.
type reply struct {
	msg    domain.Message
	err    error
	chunks []domain.ModelChunk
	block  bool // wait for cancellation
}

// scriptedModel replays replies in order and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []reply
	requests []ports.ModelRequest
}

func newModel(replies ...reply) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Complete(ctx context.Context, req ports.ModelRequest, onChunk ports.ChunkFunc) (domain.Message, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return domain.AssistantMessage("final", "done"), nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	m.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return domain.Message{}, ctx.Err()
	}
	if onChunk != nil {
		for _, ch := range r.chunks {
			if err := onChunk(ctx, ch); err != nil {
				return domain.Message{}, err
			}
		}
	}
	return r.msg, r.err
}

func (m *scriptedModel) Requests() []ports.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ModelRequest(nil), m.requests...)
}

// propose builds an assistant reply proposing calls.
func propose(id string, calls ...domain.ActionCall) reply {
	return reply{msg: domain.AssistantMessage(id, "", calls...)}
}

// fileActions is a catalog with a protected deleteFile and a harmless readFile.
type fileActions struct {
	*registry.Registry
	mu      sync.Mutex
	deleted []string
	read    []string
}

var deleteSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"path": map[string]any{"type": "string"}},
	"required":   []any{"path"},
}

func newFileActions() *fileActions {
	f := &fileActions{Registry: registry.NewRegistry()}
	f.Register(domain.ActionDescriptor{Name: "deleteFile", Schema: deleteSchema}, func(_ context.Context, args map[string]any) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleted = append(f.deleted, args["path"].(string))
		return "deleted " + args["path"].(string), nil
	})
	f.Register(domain.ActionDescriptor{Name: "readFile"}, func(_ context.Context, args map[string]any) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		path, _ := args["path"].(string)
		if path == "" {
			return nil, errors.New("path is required")
		}
		f.read = append(f.read, path)
		return "contents of " + path, nil
	})
	return f
}

func (f *fileActions) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newEngine(t *testing.T, model ports.ModelBackend, catalog ports.ActionCatalog, opts ...runtime.Option) (*runtime.Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return runtime.NewEngine(model, catalog, session.NewManager(store), opts...), store
}

func drain(seq iter.Seq2[domain.OutputEvent, error]) ([]domain.OutputEvent, error) {
	var out []domain.OutputEvent
	for ev, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func kinds(events []domain.OutputEvent) []domain.OutputKind {
	out := make([]domain.OutputKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

var deleteX = domain.ActionCall{ID: "call-1", Name: "deleteFile", Arguments: map[string]any{"path": "/tmp/x"}}

var protectDelete = runtime.SessionOptions{ProtectedActions: []string{"deleteFile"}}
