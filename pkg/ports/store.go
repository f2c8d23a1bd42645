package ports

import (
	"context"

	"github.com/aretw0/goop/pkg/domain"
)

// CheckpointStore defines the interface for persisting session checkpoints.
// Save must be an idempotent overwrite per session.
type CheckpointStore interface {
	// Save persists the checkpoint for a given session ID.
	Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error

	// Load retrieves the checkpoint for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
