package domain

import (
	"slices"
	"time"
)

// ConversationState is the record threaded through every step.
//
// Steps never mutate a state visible to others: they Clone, change the copy
// and return it.
type ConversationState struct {
	History              []Message `json:"history"`
	ProtectedActionNames []string  `json:"protected_action_names,omitempty"`
	AutoApprove          bool      `json:"auto_approve,omitempty"`

	// Reviewed holds the ids of calls in the latest assistant message that a
	// human approved or edited. It is reset whenever a new assistant message
	// is appended.
	Reviewed []string `json:"reviewed,omitempty"`
}

// NewConversationState creates the state of a fresh session.
func NewConversationState(text string, autoApprove bool, protected []string) ConversationState {
	names := slices.Clone(protected)
	slices.Sort(names)
	names = slices.Compact(names)
	return ConversationState{
		History:              []Message{HumanMessage(text)},
		ProtectedActionNames: names,
		AutoApprove:          autoApprove,
	}
}

// Clone returns a deep copy of s.
func (s ConversationState) Clone() ConversationState {
	return ConversationState{
		History:              CloneMessages(s.History),
		ProtectedActionNames: slices.Clone(s.ProtectedActionNames),
		AutoApprove:          s.AutoApprove,
		Reviewed:             slices.Clone(s.Reviewed),
	}
}

// IsProtected reports whether the named action requires review.
func (s ConversationState) IsProtected(name string) bool {
	return slices.Contains(s.ProtectedActionNames, name)
}

// IsReviewed reports whether the call with the given id was approved or edited.
func (s ConversationState) IsReviewed(callID string) bool {
	return slices.Contains(s.Reviewed, callID)
}

// LastAssistant returns the index of the most recent assistant message, or -1.
func (s ConversationState) LastAssistant() int {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

// PendingActions returns the calls of the latest assistant message that have
// no ActionResultMessage yet, in call order. It returns
// ErrInvalidToolCallContext when the latest assistant message is missing,
// proposes nothing, or is followed by a message other than an action result.
func (s ConversationState) PendingActions() ([]ActionCall, error) {
	idx := s.LastAssistant()
	if idx < 0 || !s.History[idx].HasActions() {
		return nil, ErrInvalidToolCallContext
	}
	answered := make(map[string]bool)
	for _, m := range s.History[idx+1:] {
		if m.Role != RoleActionResult {
			return nil, ErrInvalidToolCallContext
		}
		answered[m.ActionCallID] = true
	}
	var pending []ActionCall
	for _, c := range s.History[idx].ActionCalls {
		if !answered[c.ID] {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// Status is the lifecycle status of a session checkpoint.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusStopped   Status = "stopped"
)

// Checkpoint is the persisted snapshot of a session.
type Checkpoint struct {
	SessionID     string            `json:"session_id"`
	State         ConversationState `json:"state"`
	PendingReview *ReviewRequest    `json:"pending_review,omitempty"`
	Next          NodeID            `json:"next"`
	Status        Status            `json:"status"`
	Version       int64             `json:"version"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	if c.PendingReview != nil {
		r := *c.PendingReview
		r.ActionCall = CloneActionCall(r.ActionCall)
		out.PendingReview = &r
	}
	return &out
}
