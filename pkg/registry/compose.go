package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
)

// Composite serves the actions of several catalogs as one. Names must be
// unique across catalogs.
type Composite struct {
	catalogs []ports.ActionCatalog

	mu     sync.Mutex
	routes map[string]ports.ActionCatalog
}

// Compose merges catalogs. Actions are listed in catalog order.
func Compose(catalogs ...ports.ActionCatalog) *Composite {
	return &Composite{catalogs: catalogs}
}

var _ ports.ActionCatalog = (*Composite)(nil)

// Actions lists every catalog's actions and refreshes the routing table.
// A name offered twice is an error.
func (c *Composite) Actions(ctx context.Context) ([]domain.ActionDescriptor, error) {
	var out []domain.ActionDescriptor
	routes := make(map[string]ports.ActionCatalog)
	for _, cat := range c.catalogs {
		actions, err := cat.Actions(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if _, dup := routes[a.Name]; dup {
				return nil, fmt.Errorf("action %q is provided by more than one catalog", a.Name)
			}
			routes[a.Name] = cat
			out = append(out, a)
		}
	}

	c.mu.Lock()
	c.routes = routes
	c.mu.Unlock()
	return out, nil
}

// Invoke routes the call to the catalog that listed name.
func (c *Composite) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	routes := c.routes
	c.mu.Unlock()

	if routes == nil {
		if _, err := c.Actions(ctx); err != nil {
			return "", err
		}
		c.mu.Lock()
		routes = c.routes
		c.mu.Unlock()
	}

	cat, ok := routes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrActionNotFound, name)
	}
	return cat.Invoke(ctx, name, args)
}
