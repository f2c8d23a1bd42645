package ports

import (
	"context"

	"github.com/aretw0/goop/pkg/domain"
)

// ActionCatalog supplies the actions available to the model.
type ActionCatalog interface {
	// Actions lists the descriptors in a stable order.
	Actions(ctx context.Context) ([]domain.ActionDescriptor, error)

	// Invoke executes the named action. Unknown names fail with
	// domain.ErrActionNotFound.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}
