package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
)

// FailureText is the action result recorded for a failed action.
func FailureText(err error) string {
	return fmt.Sprintf("Error: %v\n Please fix your mistakes.", err)
}

// ActionObserver is notified around each action invocation. Either func may be nil.
type ActionObserver struct {
	Before func(ctx context.Context, call domain.ActionCall)
	After  func(ctx context.Context, call domain.ActionCall, result domain.Message, err error, took time.Duration)
}

// Execute runs every pending call of the latest assistant message in call
// order and appends one result per call to a copy of state. A failing action
// becomes an error result; only cancellation aborts the batch.
func Execute(ctx context.Context, catalog ports.ActionCatalog, state domain.ConversationState, obs ActionObserver) (domain.ConversationState, []domain.Message, error) {
	pending, err := state.PendingActions()
	if err != nil {
		return state, nil, err
	}
	if len(pending) == 0 {
		return state, nil, fmt.Errorf("%w: no pending actions", domain.ErrInvalidToolCallContext)
	}

	next := state.Clone()
	results := make([]domain.Message, 0, len(pending))
	for _, call := range pending {
		if err := ctx.Err(); err != nil {
			return state, nil, err
		}
		if obs.Before != nil {
			obs.Before(ctx, call)
		}

		start := time.Now()
		out, invokeErr := catalog.Invoke(ctx, call.Name, domain.CloneArguments(call.Arguments))
		if invokeErr != nil && ctx.Err() != nil {
			return state, nil, ctx.Err()
		}

		var actionErr error
		text := out
		if invokeErr != nil {
			actionErr = &domain.ActionError{Name: call.Name, CallID: call.ID, Err: invokeErr}
			text = FailureText(invokeErr)
		}
		result := domain.ActionResultMessage(text, call.Name, call.ID)
		next.History = append(next.History, result)
		results = append(results, result)

		if obs.After != nil {
			obs.After(ctx, call, result, actionErr, time.Since(start))
		}
	}
	next.Reviewed = nil
	return next, results, nil
}
