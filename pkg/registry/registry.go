package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aretw0/goop/pkg/domain"
)

// ActionFunc defines the signature for an action implementation.
// It receives a context and a map of arguments, and returns a result or error.
// String results are passed to the model verbatim, anything else as JSON.
type ActionFunc func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	desc domain.ActionDescriptor
	fn   ActionFunc
}

// Registry is an in-process ports.ActionCatalog.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	actions map[string]entry
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]entry),
	}
}

// Register adds an action to the registry.
// If an action with the same name exists, it is overwritten in place.
func (r *Registry) Register(desc domain.ActionDescriptor, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[desc.Name]; !exists {
		r.order = append(r.order, desc.Name)
	}
	r.actions[desc.Name] = entry{desc: domain.CloneDescriptor(desc), fn: fn}
}

// Actions lists descriptors in registration order.
func (r *Registry) Actions(_ context.Context) ([]domain.ActionDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActionDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, domain.CloneDescriptor(r.actions[name].desc))
	}
	return out, nil
}

// Invoke looks up an action by name and executes it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrActionNotFound, name)
	}

	out, err := e.fn(ctx, domain.CloneArguments(args))
	if err != nil {
		return "", err
	}
	return Stringify(out)
}

// Stringify renders an action result as text for the model.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(b), nil
}
