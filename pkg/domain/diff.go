package domain

// CheckpointDiff represents the changes between two checkpoints.
// It is designed to be serialized to JSON for partial updates on the client.
type CheckpointDiff struct {
	SessionID string  `json:"session_id"`
	Next      *NodeID `json:"next,omitempty"`
	Status    *Status `json:"status,omitempty"`

	// Appended contains messages added to the end of the history.
	Appended []Message `json:"appended,omitempty"`

	// Replaced contains messages rewritten in place, keyed by history index.
	// Edits of a proposed action show up here.
	Replaced map[int]Message `json:"replaced,omitempty"`

	PendingReview *ReviewRequest `json:"pending_review,omitempty"`
}

// Diff calculates the difference between old and next.
// If old is nil, it returns a diff representing the entire checkpoint.
// It returns nil when nothing changed.
func Diff(old, next *Checkpoint) *CheckpointDiff {
	if next == nil {
		return nil
	}
	diff := &CheckpointDiff{SessionID: next.SessionID}

	if old == nil || old.Next != next.Next {
		diff.Next = &next.Next
	}
	if old == nil || old.Status != next.Status {
		diff.Status = &next.Status
	}
	if next.PendingReview != nil && (old == nil || old.PendingReview == nil ||
		old.PendingReview.ActionCall.ID != next.PendingReview.ActionCall.ID) {
		diff.PendingReview = next.PendingReview
	}

	var prev []Message
	if old != nil {
		prev = old.State.History
	}
	curr := next.State.History
	shared := min(len(prev), len(curr))
	for i := 0; i < shared; i++ {
		if !sameMessage(prev[i], curr[i]) {
			if diff.Replaced == nil {
				diff.Replaced = make(map[int]Message)
			}
			diff.Replaced[i] = curr[i]
		}
	}
	if len(curr) > shared {
		diff.Appended = CloneMessages(curr[shared:])
	}

	if diff.Next == nil && diff.Status == nil && diff.PendingReview == nil &&
		len(diff.Appended) == 0 && len(diff.Replaced) == 0 {
		return nil
	}
	return diff
}

func sameMessage(a, b Message) bool {
	if a.Role != b.Role || a.ID != b.ID || a.Text != b.Text ||
		a.ActionName != b.ActionName || a.ActionCallID != b.ActionCallID ||
		len(a.ActionCalls) != len(b.ActionCalls) {
		return false
	}
	for i := range a.ActionCalls {
		x, y := a.ActionCalls[i], b.ActionCalls[i]
		if x.ID != y.ID || x.Name != y.Name || x.ArgumentsJSON() != y.ArgumentsJSON() {
			return false
		}
	}
	return true
}
