package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/schema"
)

// SchemaLookup returns the argument schema of an action, or nil if unknown.
type SchemaLookup func(name string) map[string]any

// NextReview returns the review request for the first protected call of the
// latest assistant message that is neither reviewed nor answered, or nil if
// none is left.
func NextReview(state domain.ConversationState) (*domain.ReviewRequest, error) {
	pending, err := state.PendingActions()
	if err != nil {
		return nil, err
	}
	for _, c := range pending {
		if state.IsProtected(c.Name) && !state.IsReviewed(c.ID) {
			return &domain.ReviewRequest{
				Prompt:     domain.ReviewPrompt,
				ActionCall: domain.CloneActionCall(c),
			}, nil
		}
	}
	return nil, nil
}

// Resolve applies a human resolution to the reviewed call. It is pure: on
// error the input state is untouched and the review stays suspended.
//
//	approve (or unknown verb)  mark reviewed, run actions
//	edit                       replace the call's arguments in place, run actions
//	reject                     answer with the rejection notice, back to reasoning
//	comment                    answer with the feedback text, back to reasoning
//
// When several protected calls were proposed, the next node is review again
// until each of them is resolved.
func Resolve(req domain.ReviewRequest, state domain.ConversationState, res domain.ReviewResolution, schemas SchemaLookup) (domain.NodeID, domain.ConversationState, error) {
	idx, pos, err := locateCall(state, req.ActionCall.ID)
	if err != nil {
		return "", state, err
	}
	call := state.History[idx].ActionCalls[pos]

	next := state.Clone()
	switch res.Action {
	case domain.ReviewEdit:
		if strings.TrimSpace(res.Data) == "" {
			return "", state, &domain.ResolutionError{Action: res.Action, Reason: "a JSON argument payload is required"}
		}
		args, err := schema.ParseArguments(res.Data)
		if err != nil {
			return "", state, &domain.ResolutionError{Action: res.Action, Reason: err.Error()}
		}
		var doc map[string]any
		if schemas != nil {
			doc = schemas(call.Name)
		}
		if err := schema.Validate(doc, args); err != nil && !errors.Is(err, schema.ErrUnsupportedSchema) {
			return "", state, &domain.ResolutionError{Action: res.Action, Reason: err.Error()}
		}
		next.History[idx].ActionCalls[pos].Arguments = args
		next.Reviewed = append(next.Reviewed, call.ID)

	case domain.ReviewReject:
		next.History = append(next.History, domain.ActionResultMessage(domain.RejectionNotice, call.Name, call.ID))

	case domain.ReviewComment:
		if strings.TrimSpace(res.Data) == "" {
			return "", state, &domain.ResolutionError{Action: res.Action, Reason: "feedback text is required"}
		}
		next.History = append(next.History, domain.ActionResultMessage(res.Data, call.Name, call.ID))

	default:
		next.Reviewed = append(next.Reviewed, call.ID)
	}

	node, err := afterReview(next)
	if err != nil {
		return "", state, err
	}
	return node, next, nil
}

// afterReview picks review for the next protected call, execution for
// remaining approved calls, or reasoning when every call is answered.
func afterReview(state domain.ConversationState) (domain.NodeID, error) {
	req, err := NextReview(state)
	if err != nil {
		return "", err
	}
	if req != nil {
		return domain.NodeReview, nil
	}
	pending, err := state.PendingActions()
	if err != nil {
		return "", err
	}
	if len(pending) > 0 {
		return domain.NodeExecute, nil
	}
	return domain.NodeReasoning, nil
}

// locateCall finds a pending call of the latest assistant message by id.
func locateCall(state domain.ConversationState, callID string) (msgIdx, callIdx int, err error) {
	pending, err := state.PendingActions()
	if err != nil {
		return 0, 0, err
	}
	isPending := false
	for _, c := range pending {
		if c.ID == callID {
			isPending = true
			break
		}
	}
	idx := state.LastAssistant()
	if !isPending {
		return 0, 0, fmt.Errorf("%w: call %q is not awaiting review", domain.ErrInvalidToolCallContext, callID)
	}
	for i, c := range state.History[idx].ActionCalls {
		if c.ID == callID {
			return idx, i, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: call %q not found", domain.ErrInvalidToolCallContext, callID)
}
