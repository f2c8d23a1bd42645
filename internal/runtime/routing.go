package runtime

import (
	"slices"

	"github.com/aretw0/goop/pkg/domain"
)

// transitions is the node graph. Routing and review may only pick targets listed here.
var transitions = map[domain.NodeID][]domain.NodeID{
	domain.NodeReasoning: {domain.NodeReview, domain.NodeExecute, domain.NodeEnd},
	domain.NodeReview:    {domain.NodeExecute, domain.NodeReasoning, domain.NodeReview},
	domain.NodeExecute:   {domain.NodeReasoning},
}

var edgeLabels = map[[2]domain.NodeID]string{
	{domain.NodeReasoning, domain.NodeReview}:  string(domain.RouteReviewActions),
	{domain.NodeReasoning, domain.NodeExecute}: string(domain.RouteRunActions),
	{domain.NodeReasoning, domain.NodeEnd}:     string(domain.RouteStop),
	{domain.NodeReview, domain.NodeExecute}:    "approve / edit",
	{domain.NodeReview, domain.NodeReasoning}:  "reject / comment",
	{domain.NodeReview, domain.NodeReview}:     "next protected call",
}

// Route decides what follows a reasoning step. It is pure: the same inputs
// always yield the same decision.
func Route(msg domain.Message, protected []string, autoApprove bool) domain.Route {
	if !msg.HasActions() {
		return domain.RouteStop
	}
	if !autoApprove {
		for _, c := range msg.ActionCalls {
			if slices.Contains(protected, c.Name) {
				return domain.RouteReviewActions
			}
		}
	}
	return domain.RouteRunActions
}

// CheckTransition returns a *domain.TransitionError if from -> to is not an edge.
func CheckTransition(from, to domain.NodeID) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return &domain.TransitionError{From: from, To: to}
}

// Transitions lists the node graph edges in a stable order.
func Transitions() []domain.Edge {
	var edges []domain.Edge
	for _, from := range []domain.NodeID{domain.NodeReasoning, domain.NodeReview, domain.NodeExecute} {
		for _, to := range transitions[from] {
			edges = append(edges, domain.Edge{From: from, To: to, Label: edgeLabels[[2]domain.NodeID{from, to}]})
		}
	}
	return edges
}
