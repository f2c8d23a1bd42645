package runtime_test

import (
	"testing"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	read := domain.ActionCall{ID: "a", Name: "readFile"}
	del := domain.ActionCall{ID: "b", Name: "deleteFile"}
	protected := []string{"deleteFile"}

	tests := []struct {
		name        string
		msg         domain.Message
		autoApprove bool
		want        domain.Route
	}{
		{"No Actions Stops", domain.AssistantMessage("m", "hello"), false, domain.RouteStop},
		{"No Actions Stops Even In Auto Approve", domain.AssistantMessage("m", "hello"), true, domain.RouteStop},
		{"Unprotected Runs", domain.AssistantMessage("m", "", read), false, domain.RouteRunActions},
		{"Protected Reviews", domain.AssistantMessage("m", "", del), false, domain.RouteReviewActions},
		{"Protected Batch Reviews Atomically", domain.AssistantMessage("m", "", read, del), false, domain.RouteReviewActions},
		{"Auto Approve Skips Review", domain.AssistantMessage("m", "", del), true, domain.RouteRunActions},
		{"Human Message Stops", domain.HumanMessage("hi"), false, domain.RouteStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := runtime.Route(tt.msg, protected, tt.autoApprove)
			second := runtime.Route(tt.msg, protected, tt.autoApprove)
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, second, "routing must be deterministic")
		})
	}
}

func TestRouteNode(t *testing.T) {
	assert.Equal(t, domain.NodeEnd, domain.RouteStop.Node())
	assert.Equal(t, domain.NodeExecute, domain.RouteRunActions.Node())
	assert.Equal(t, domain.NodeReview, domain.RouteReviewActions.Node())
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, runtime.CheckTransition(domain.NodeReasoning, domain.NodeReview))
	assert.NoError(t, runtime.CheckTransition(domain.NodeReview, domain.NodeReview))
	assert.NoError(t, runtime.CheckTransition(domain.NodeExecute, domain.NodeReasoning))

	err := runtime.CheckTransition(domain.NodeExecute, domain.NodeEnd)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	err = runtime.CheckTransition(domain.NodeEnd, domain.NodeReasoning)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransitions(t *testing.T) {
	edges := runtime.Transitions()
	assert.Len(t, edges, 7)
	assert.Equal(t, domain.Edge{From: domain.NodeReasoning, To: domain.NodeReview, Label: "review_actions"}, edges[0])
	for _, e := range edges {
		assert.NoError(t, runtime.CheckTransition(e.From, e.To))
	}
}
