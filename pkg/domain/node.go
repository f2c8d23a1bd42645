package domain

// NodeID enumerates the nodes of the workflow graph.
type NodeID string

const (
	NodeReasoning NodeID = "reasoning"
	NodeReview    NodeID = "review"
	NodeExecute   NodeID = "execute"
	NodeEnd       NodeID = "__end__"
)

// Route is the decision taken after a reasoning step.
type Route string

const (
	RouteStop          Route = "stop"
	RouteRunActions    Route = "run_actions"
	RouteReviewActions Route = "review_actions"
)

// Node returns the node a route leads to.
func (r Route) Node() NodeID {
	switch r {
	case RouteRunActions:
		return NodeExecute
	case RouteReviewActions:
		return NodeReview
	default:
		return NodeEnd
	}
}

// Edge is a permitted transition of the workflow graph.
type Edge struct {
	From  NodeID `json:"from"`
	To    NodeID `json:"to"`
	Label string `json:"label,omitempty"`
}
