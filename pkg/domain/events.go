package domain

import (
	"context"
	"time"
)

// OutputKind categorizes an OutputEvent.
type OutputKind string

const (
	OutputToken           OutputKind = "token"
	OutputActionCallChunk OutputKind = "action_call_chunk"
	OutputFinish          OutputKind = "finish"
	OutputActionResult    OutputKind = "action_result"
	OutputSuspended       OutputKind = "suspended"
	OutputStopped         OutputKind = "stopped"
)

// Finish reasons reported by OutputFinish events.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// ActionCallChunk is an incremental piece of a proposed action call.
// Name is set on the first chunk of a call only.
type ActionCallChunk struct {
	Index     int    `json:"index"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OutputEvent is an element of a run's lazy output sequence.
type OutputEvent struct {
	Kind    OutputKind       `json:"kind"`
	Node    NodeID           `json:"node,omitempty"`
	Content any              `json:"content,omitempty"` // token
	Chunk   *ActionCallChunk `json:"chunk,omitempty"`   // action_call_chunk
	Reason  string           `json:"reason,omitempty"`  // finish
	Result  *Message         `json:"result,omitempty"`  // action_result
	Review  *ReviewRequest   `json:"review,omitempty"`  // suspended
}

// ModelChunk is a streaming fragment produced by a model backend while it
// computes a response. Exactly one of Content, Chunk or Finish is set.
type ModelChunk struct {
	Content any
	Chunk   *ActionCallChunk
	Finish  string
}

// EventBase contains common fields for all lifecycle events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID NodeID `json:"node_id"`
	Next   NodeID `json:"next,omitempty"` // leave only
	Err    error  `json:"-"`
}

// ActionEvent represents an action execution.
type ActionEvent struct {
	EventBase
	Call     ActionCall    `json:"call"`
	Output   string        `json:"output,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ReviewEvent represents a suspend or a resolution.
type ReviewEvent struct {
	EventBase
	Request    ReviewRequest     `json:"request"`
	Resolution *ReviewResolution `json:"resolution,omitempty"`
}

// CheckpointEvent is emitted after every checkpoint write.
type CheckpointEvent struct {
	EventBase
	Checkpoint *Checkpoint     `json:"checkpoint"`
	Diff       *CheckpointDiff `json:"diff,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
// Nil callbacks are skipped.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnNodeLeave    func(context.Context, *NodeEvent)
	OnActionCall   func(context.Context, *ActionEvent)
	OnActionReturn func(context.Context, *ActionEvent)
	OnSuspend      func(context.Context, *ReviewEvent)
	OnResolve      func(context.Context, *ReviewEvent)
	OnCheckpoint   func(context.Context, *CheckpointEvent)
}

// MergeHooks returns hooks that invoke every non-nil callback of each input in order.
func MergeHooks(all ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range all {
		out.OnNodeEnter = chain(out.OnNodeEnter, h.OnNodeEnter)
		out.OnNodeLeave = chain(out.OnNodeLeave, h.OnNodeLeave)
		out.OnActionCall = chain(out.OnActionCall, h.OnActionCall)
		out.OnActionReturn = chain(out.OnActionReturn, h.OnActionReturn)
		out.OnSuspend = chain(out.OnSuspend, h.OnSuspend)
		out.OnResolve = chain(out.OnResolve, h.OnResolve)
		out.OnCheckpoint = chain(out.OnCheckpoint, h.OnCheckpoint)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
