package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/goop/pkg/domain"
)

// Renderer turns markdown into terminal output.
type Renderer func(string) (string, error)

// NewRenderer returns a function that renders markdown using glamour.
// When styled is false (output is not a terminal) the markdown is returned as is.
func NewRenderer(styled bool) Renderer {
	if !styled {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return r.Render
}

// Transcript formats a conversation history as markdown.
// System messages are omitted.
func Transcript(history []domain.Message) string {
	var sb strings.Builder
	for _, m := range history {
		switch m.Role {
		case domain.RoleHuman:
			fmt.Fprintf(&sb, "**you:** %s\n\n", m.Text)
		case domain.RoleAssistant:
			if m.Text != "" {
				fmt.Fprintf(&sb, "**assistant:** %s\n\n", m.Text)
			}
			for _, c := range m.ActionCalls {
				fmt.Fprintf(&sb, "- calls `%s` %s\n", c.Name, compactArgs(c.Arguments))
			}
			if len(m.ActionCalls) > 0 {
				sb.WriteString("\n")
			}
		case domain.RoleActionResult:
			fmt.Fprintf(&sb, "> `%s` returned:\n>\n", m.ActionName)
			for _, line := range strings.Split(strings.TrimRight(m.Text, "\n"), "\n") {
				fmt.Fprintf(&sb, "> %s\n", line)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ReviewPrompt formats a pending review as markdown.
func ReviewPrompt(r *domain.ReviewRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Review `%s`\n\n", r.ActionCall.Name)
	if r.Prompt != "" {
		fmt.Fprintf(&sb, "%s\n\n", r.Prompt)
	}
	fmt.Fprintf(&sb, "```json\n%s\n```\n", compactArgs(r.ActionCall.Arguments))
	return sb.String()
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
