package domain

import "strings"

// ReviewPrompt is the prompt text attached to every review request.
const ReviewPrompt = "Your input is required for the following action:"

// RejectionNotice is recorded as the result of a rejected action.
const RejectionNotice = "The user rejected this action. Do not retry it unless the user asks you to."

// ReviewRequest is exposed while a session is suspended for human review.
type ReviewRequest struct {
	Prompt     string     `json:"prompt"`
	ActionCall ActionCall `json:"action_call"`
}

// ReviewAction is the verb of a ReviewResolution.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewEdit    ReviewAction = "edit"
	ReviewReject  ReviewAction = "reject"
	ReviewComment ReviewAction = "comment"
)

// ParseReviewAction maps user input to a ReviewAction. The verbs of the
// interactive prompt (continue, update, feedback) are accepted as aliases.
// Anything unrecognized approves.
func ParseReviewAction(s string) ReviewAction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edit", "update":
		return ReviewEdit
	case "reject", "deny":
		return ReviewReject
	case "comment", "feedback":
		return ReviewComment
	default:
		return ReviewApprove
	}
}

// ReviewResolution is the human answer that resumes a suspended session.
type ReviewResolution struct {
	Action ReviewAction `json:"action"`
	Data   string       `json:"data,omitempty"`
}

// Approve is a convenience resolution.
func Approve() ReviewResolution { return ReviewResolution{Action: ReviewApprove} }

// Reject is a convenience resolution.
func Reject() ReviewResolution { return ReviewResolution{Action: ReviewReject} }

// Edit replaces the reviewed call's arguments with the given JSON object.
func Edit(argumentsJSON string) ReviewResolution {
	return ReviewResolution{Action: ReviewEdit, Data: argumentsJSON}
}

// Comment answers the reviewed call with feedback for the model.
func Comment(feedback string) ReviewResolution {
	return ReviewResolution{Action: ReviewComment, Data: feedback}
}
