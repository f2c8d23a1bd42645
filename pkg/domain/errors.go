package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned when the model backend call fails.
	ErrBackendUnavailable = errors.New("model backend unavailable")

	// ErrInvalidResolution is returned for malformed review resolutions.
	ErrInvalidResolution = errors.New("invalid review resolution")

	// ErrStepLimitExceeded is returned when a run exceeds its step budget.
	ErrStepLimitExceeded = errors.New("step limit exceeded")

	// ErrSessionBusy is returned when a session is already being run.
	ErrSessionBusy = errors.New("session busy")

	// ErrInvalidToolCallContext is returned when review or execution is reached
	// without a pending assistant message. It indicates a routing bug.
	ErrInvalidToolCallContext = errors.New("invalid tool call context")

	// ErrInvalidTransition is returned for transitions outside the node graph.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when starting a session that already has a checkpoint.
	ErrSessionExists = errors.New("session already exists")

	// ErrNoPendingReview is returned when resuming a session that is not suspended.
	ErrNoPendingReview = errors.New("no pending review")

	// ErrReviewPending is returned when sending input to a suspended session.
	ErrReviewPending = errors.New("review pending")

	// ErrActionNotFound is returned by catalogs for unknown action names.
	ErrActionNotFound = errors.New("action not found")
)

// ActionError is a per-action failure. It is recorded as an action result
// and never aborts a run.
type ActionError struct {
	Name   string
	CallID string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q (%s) failed: %v", e.Name, e.CallID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// ResolutionError describes why a review resolution was refused.
type ResolutionError struct {
	Action ReviewAction
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("invalid %s resolution: %s", e.Action, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return ErrInvalidResolution }

// StepLimitError reports the budget that was exhausted and where the run stopped.
type StepLimitError struct {
	Limit int
	Next  NodeID
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("step limit of %d exceeded before node %q", e.Limit, e.Next)
}

func (e *StepLimitError) Unwrap() error { return ErrStepLimitExceeded }

// TransitionError reports a transition outside the node graph.
type TransitionError struct {
	From, To NodeID
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
