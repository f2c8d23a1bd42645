package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/goop/pkg/domain"
)

// LogHooks returns hooks that log every lifecycle event at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "Enter Node", "session_id", e.SessionID, "node_id", e.NodeID)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.DebugContext(ctx, "Leave Node (Error)", "session_id", e.SessionID, "node_id", e.NodeID, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "Leave Node", "session_id", e.SessionID, "node_id", e.NodeID, "next", e.Next)
		},
		OnActionCall: func(ctx context.Context, e *domain.ActionEvent) {
			logger.DebugContext(ctx, "Action Call", "session_id", e.SessionID, "action", e.Call.Name, "call_id", e.Call.ID)
		},
		OnActionReturn: func(ctx context.Context, e *domain.ActionEvent) {
			if e.IsError {
				logger.DebugContext(ctx, "Action Return (Error)", "action", e.Call.Name, "err", e.Output, "took", e.Duration)
			} else {
				logger.DebugContext(ctx, "Action Return (Success)", "action", e.Call.Name, "took", e.Duration)
			}
		},
		OnSuspend: func(ctx context.Context, e *domain.ReviewEvent) {
			logger.DebugContext(ctx, "Suspended", "session_id", e.SessionID, "action", e.Request.ActionCall.Name)
		},
		OnResolve: func(ctx context.Context, e *domain.ReviewEvent) {
			if e.Resolution != nil {
				logger.DebugContext(ctx, "Resolved", "session_id", e.SessionID, "decision", e.Resolution.Action)
			}
		},
		OnCheckpoint: func(ctx context.Context, e *domain.CheckpointEvent) {
			logger.DebugContext(ctx, "Checkpoint", "session_id", e.SessionID, "version", e.Checkpoint.Version, "next", e.Checkpoint.Next)
		},
	}
}
