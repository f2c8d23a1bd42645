package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/goop/internal/presentation/graph"
	"github.com/aretw0/goop/internal/presentation/tui"
	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/ports"
)

// ListSessions prints the stored session ids.
func ListSessions(ctx context.Context, store ports.CheckpointStore, w io.Writer) error {
	sessions, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No active sessions found.")
		return nil
	}

	fmt.Fprintln(w, "Active Sessions:")
	for _, id := range sessions {
		cp, err := store.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "- %s (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Fprintf(w, "- %s [%s, next: %s, v%d, %s]\n", id, cp.Status, cp.Next, cp.Version, cp.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// InspectOptions selects the output of InspectSession.
type InspectOptions struct {
	// Render prints the conversation as markdown instead of the raw checkpoint.
	Render bool
	Styled bool
}

// InspectSession prints a session checkpoint.
func InspectSession(ctx context.Context, store ports.CheckpointStore, sessionID string, w io.Writer, opts InspectOptions) error {
	cp, err := store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}

	if !opts.Render {
		data, err := json.MarshalIndent(cp, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling checkpoint: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	md := fmt.Sprintf("# Session %s\n\n*%s, next: %s*\n\n%s", cp.SessionID, cp.Status, cp.Next, tui.Transcript(cp.State.History))
	if cp.PendingReview != nil {
		md += tui.ReviewPrompt(cp.PendingReview)
	}
	out, err := tui.NewRenderer(opts.Styled)(md)
	if err != nil {
		return err
	}
	fmt.Fprint(w, out)
	return nil
}

// RemoveSessions deletes each session and reports every failure.
func RemoveSessions(ctx context.Context, store ports.CheckpointStore, sessionIDs []string, w io.Writer) error {
	var errs []error
	for _, id := range sessionIDs {
		if err := store.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("error removing '%s': %w", id, err))
			continue
		}
		fmt.Fprintf(w, "Removed session '%s'\n", id)
	}
	return errors.Join(errs...)
}

// PrintGraph writes the workflow as a Mermaid diagram. With a session id the
// session's position is highlighted.
func PrintGraph(ctx context.Context, store ports.CheckpointStore, sessionID string, w io.Writer) error {
	var overlay *graph.GraphOverlay
	if sessionID != "" {
		cp, err := store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", sessionID, err)
		}
		overlay = graph.OverlayFromCheckpoint(cp)
	}
	fmt.Fprint(w, graph.GenerateMermaid(runtime.Transitions(), overlay))
	return nil
}
