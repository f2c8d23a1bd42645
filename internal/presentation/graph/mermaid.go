package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/goop/pkg/domain"
)

// GraphOverlay contains dynamic session data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []domain.NodeID
	CurrentNode  domain.NodeID
	// Pending names the action awaiting review, if any.
	Pending string
}

// OverlayFromCheckpoint derives the visited nodes from a session's history.
func OverlayFromCheckpoint(cp *domain.Checkpoint) *GraphOverlay {
	o := &GraphOverlay{CurrentNode: cp.Next}
	seen := map[domain.NodeID]bool{}
	visit := func(n domain.NodeID) {
		if !seen[n] {
			seen[n] = true
			o.VisitedNodes = append(o.VisitedNodes, n)
		}
	}
	for _, m := range cp.State.History {
		switch m.Role {
		case domain.RoleAssistant:
			visit(domain.NodeReasoning)
		case domain.RoleActionResult:
			if m.Text == domain.RejectionNotice {
				visit(domain.NodeReview)
			} else {
				visit(domain.NodeExecute)
			}
		}
	}
	if len(cp.State.Reviewed) > 0 || cp.PendingReview != nil {
		visit(domain.NodeReview)
	}
	if cp.PendingReview != nil {
		o.Pending = cp.PendingReview.ActionCall.Name
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart from the workflow edges.
// It applies semantic styling:
// - Reasoning: [Rectangle]
// - Review (human input): [/Parallelogram/]
// - Execute (actions): [[Subroutine]]
// - End: ((Circle))
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(edges []domain.Edge, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var nodes []domain.NodeID
	declared := map[domain.NodeID]bool{}
	for _, e := range edges {
		for _, n := range []domain.NodeID{e.From, e.To} {
			if !declared[n] {
				declared[n] = true
				nodes = append(nodes, n)
			}
		}
	}

	for _, n := range nodes {
		opener, closer := "[", "]"
		label := string(n)
		switch n {
		case domain.NodeReview:
			opener, closer = "[/", "/]"
			if overlay != nil && overlay.Pending != "" && overlay.CurrentNode == n {
				label = fmt.Sprintf("%s <br/> %s?", n, strings.ReplaceAll(overlay.Pending, "\"", "'"))
			}
		case domain.NodeExecute:
			opener, closer = "[[", "]]"
		case domain.NodeEnd:
			opener, closer, label = "((", "))", "end"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(n), opener, label, closer)
	}

	for _, e := range edges {
		arrow := "-->"
		if e.Label != "" {
			arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(e.Label, "\"", "'"))
		}
		if e.From == e.To {
			// Self loops are drawn dotted so they do not hide the main flow.
			arrow = "-.->"
			if e.Label != "" {
				arrow = fmt.Sprintf("-. \"%s\" .->", strings.ReplaceAll(e.Label, "\"", "'"))
			}
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.From), arrow, sanitizeMermaidID(e.To))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id domain.NodeID) string {
	s := strings.Trim(string(id), "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
