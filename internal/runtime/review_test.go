package runtime_test

import (
	"testing"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suspendedState(calls ...domain.ActionCall) domain.ConversationState {
	s := domain.NewConversationState("clean up", false, []string{"deleteFile"})
	s.History = append(s.History, domain.AssistantMessage("msg-1", "", calls...))
	return s
}

func schemas(name string) map[string]any {
	if name == "deleteFile" {
		return deleteSchema
	}
	return nil
}

func TestNextReview(t *testing.T) {
	read := domain.ActionCall{ID: "r", Name: "readFile"}
	state := suspendedState(read, deleteX)

	req, err := runtime.NextReview(state)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, domain.ReviewPrompt, req.Prompt)
	assert.Equal(t, "call-1", req.ActionCall.ID)

	state.Reviewed = []string{"call-1"}
	req, err = runtime.NextReview(state)
	require.NoError(t, err)
	assert.Nil(t, req)

	_, err = runtime.NextReview(domain.NewConversationState("hi", false, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidToolCallContext)
}

func TestResolve(t *testing.T) {
	req := domain.ReviewRequest{Prompt: domain.ReviewPrompt, ActionCall: deleteX}

	tests := []struct {
		name     string
		res      domain.ReviewResolution
		wantNext domain.NodeID
		check    func(t *testing.T, before, after domain.ConversationState)
	}{
		{
			name:     "Approve",
			res:      domain.Approve(),
			wantNext: domain.NodeExecute,
			check: func(t *testing.T, before, after domain.ConversationState) {
				assert.Equal(t, before.History, after.History)
				assert.True(t, after.IsReviewed("call-1"))
			},
		},
		{
			name:     "Unrecognized Verb Approves",
			res:      domain.ReviewResolution{Action: "shrug"},
			wantNext: domain.NodeExecute,
			check: func(t *testing.T, before, after domain.ConversationState) {
				assert.Equal(t, before.History, after.History)
			},
		},
		{
			name:     "Edit Replaces In Place",
			res:      domain.Edit(`{"path":"/tmp/y"}`),
			wantNext: domain.NodeExecute,
			check: func(t *testing.T, before, after domain.ConversationState) {
				require.Len(t, after.History, len(before.History))
				msg := after.History[1]
				assert.Equal(t, "msg-1", msg.ID)
				assert.Equal(t, "call-1", msg.ActionCalls[0].ID)
				assert.Equal(t, "/tmp/y", msg.ActionCalls[0].Arguments["path"])
				// the input state is never mutated
				assert.Equal(t, "/tmp/x", before.History[1].ActionCalls[0].Arguments["path"])
			},
		},
		{
			name:     "Reject Notifies Model",
			res:      domain.Reject(),
			wantNext: domain.NodeReasoning,
			check: func(t *testing.T, before, after domain.ConversationState) {
				require.Len(t, after.History, len(before.History)+1)
				assert.Equal(t, domain.ActionResultMessage(domain.RejectionNotice, "deleteFile", "call-1"), after.History[2])
			},
		},
		{
			name:     "Comment Passes Feedback Verbatim",
			res:      domain.Comment("  use the trash instead "),
			wantNext: domain.NodeReasoning,
			check: func(t *testing.T, before, after domain.ConversationState) {
				require.Len(t, after.History, len(before.History)+1)
				assert.Equal(t, "  use the trash instead ", after.History[2].Text)
				assert.Equal(t, "call-1", after.History[2].ActionCallID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := suspendedState(deleteX)
			next, after, err := runtime.Resolve(req, before, tt.res, schemas)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNext, next)
			tt.check(t, before, after)
		})
	}
}

func TestResolve_InvalidResolution(t *testing.T) {
	req := domain.ReviewRequest{Prompt: domain.ReviewPrompt, ActionCall: deleteX}

	tests := []struct {
		name string
		res  domain.ReviewResolution
	}{
		{"Edit Without Data", domain.ReviewResolution{Action: domain.ReviewEdit}},
		{"Edit With Malformed JSON", domain.Edit(`{"path":`)},
		{"Edit With Non Object", domain.Edit(`["/tmp/y"]`)},
		{"Edit Violating Schema", domain.Edit(`{"path": 42}`)},
		{"Edit Missing Required", domain.Edit(`{}`)},
		{"Comment Without Data", domain.ReviewResolution{Action: domain.ReviewComment}},
		{"Comment Blank", domain.Comment("   ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := suspendedState(deleteX)
			snapshot := before.Clone()

			_, after, err := runtime.Resolve(req, before, tt.res, schemas)
			require.ErrorIs(t, err, domain.ErrInvalidResolution)

			var rerr *domain.ResolutionError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.res.Action, rerr.Action)
			assert.Equal(t, snapshot, before)
			assert.Equal(t, snapshot, after)
		})
	}
}

func TestResolve_StaleRequest(t *testing.T) {
	state := suspendedState(deleteX)
	state.History = append(state.History, domain.ActionResultMessage("done", "deleteFile", "call-1"))

	req := domain.ReviewRequest{ActionCall: deleteX}
	_, _, err := runtime.Resolve(req, state, domain.Approve(), schemas)
	assert.ErrorIs(t, err, domain.ErrInvalidToolCallContext)
}

func TestResolve_MultipleProtectedCalls(t *testing.T) {
	second := domain.ActionCall{ID: "call-2", Name: "deleteFile", Arguments: map[string]any{"path": "/tmp/z"}}
	read := domain.ActionCall{ID: "call-0", Name: "readFile", Arguments: map[string]any{"path": "/etc/hosts"}}
	state := suspendedState(read, deleteX, second)

	req, err := runtime.NextReview(state)
	require.NoError(t, err)
	assert.Equal(t, "call-1", req.ActionCall.ID)

	// Rejecting the first protected call moves on to the second.
	next, state, err := runtime.Resolve(*req, state, domain.Reject(), schemas)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeReview, next)

	req, err = runtime.NextReview(state)
	require.NoError(t, err)
	assert.Equal(t, "call-2", req.ActionCall.ID)

	// Approving the last one runs what is left: the unprotected read and call-2.
	next, state, err = runtime.Resolve(*req, state, domain.Approve(), schemas)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeExecute, next)

	pending, err := state.PendingActions()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "call-0", pending[0].ID)
	assert.Equal(t, "call-2", pending[1].ID)
}

func TestResolve_AllRejectedReturnsToReasoning(t *testing.T) {
	second := domain.ActionCall{ID: "call-2", Name: "deleteFile", Arguments: map[string]any{"path": "/tmp/z"}}
	state := suspendedState(deleteX, second)

	req, _ := runtime.NextReview(state)
	_, state, err := runtime.Resolve(*req, state, domain.Reject(), schemas)
	require.NoError(t, err)

	req, _ = runtime.NextReview(state)
	next, _, err := runtime.Resolve(*req, state, domain.Comment("not this one either"), schemas)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeReasoning, next)
}
