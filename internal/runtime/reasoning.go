package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/google/uuid"
)

// DefaultPersona is the system message prepended to every model request.
const DefaultPersona = "You're a good person"

// Reason asks the model for the next assistant message and appends it to a
// copy of state. onChunk receives streaming fragments and may be nil.
func Reason(ctx context.Context, model ports.ModelBackend, actions []domain.ActionDescriptor,
	persona string, state domain.ConversationState, onChunk ports.ChunkFunc,
) (domain.ConversationState, error) {
	req := ports.ModelRequest{
		Messages: append([]domain.Message{domain.SystemMessage(persona)}, domain.CloneMessages(state.History)...),
		Actions:  actions,
	}

	msg, err := model.Complete(ctx, req, onChunk)
	if err != nil {
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		if errors.Is(err, domain.ErrBackendUnavailable) || errors.Is(err, errConsumerGone) {
			return state, err
		}
		return state, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}

	next := state.Clone()
	next.History = append(next.History, normalizeAssistant(msg))
	next.Reviewed = nil
	return next, nil
}

// normalizeAssistant guarantees the ids result correlation depends on.
func normalizeAssistant(msg domain.Message) domain.Message {
	msg = domain.CloneMessage(msg)
	msg.Role = domain.RoleAssistant
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.NewString()
	}
	for i := range msg.ActionCalls {
		if msg.ActionCalls[i].ID == "" {
			msg.ActionCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	return msg
}
