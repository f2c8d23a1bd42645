package ports

import (
	"context"

	"github.com/aretw0/goop/pkg/domain"
)

// ModelRequest is the input of a model completion.
type ModelRequest struct {
	Messages []domain.Message
	Actions  []domain.ActionDescriptor
}

// ChunkFunc receives streaming fragments while a completion is computed.
// Returning an error aborts the completion.
type ChunkFunc func(ctx context.Context, chunk domain.ModelChunk) error

// ModelBackend produces the next assistant message.
type ModelBackend interface {
	// Complete returns an assistant message for the request. Backends that
	// stream call onChunk synchronously as fragments arrive; onChunk may be nil.
	Complete(ctx context.Context, req ModelRequest, onChunk ChunkFunc) (domain.Message, error)
}
