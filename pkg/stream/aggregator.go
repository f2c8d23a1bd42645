// Package stream turns a run's output events into display-ready text.
//
// The text is presentational only. Control flow decisions never depend on it.
package stream

import (
	"encoding/json"
	"fmt"
	"iter"

	"github.com/aretw0/goop/pkg/domain"
)

// Separator is emitted when the model finishes a turn in order to call actions.
const Separator = "\n\n"

// ActionHeader returns the fragment announcing an action call.
func ActionHeader(name string) string {
	return fmt.Sprintf("\n\n< TOOL CALL: %s >\n\n", name)
}

// Fragments converts a run's events into text fragments.
// Errors are passed through and end the sequence.
func Fragments(events iter.Seq2[domain.OutputEvent, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for ev, err := range events {
			if err != nil {
				yield("", err)
				return
			}
			for _, frag := range Render(ev) {
				if !yield(frag, nil) {
					return
				}
			}
		}
	}
}

// Render returns the fragments of a single event. Events that carry no
// model output (results, suspends, stops) render nothing.
func Render(ev domain.OutputEvent) []string {
	switch ev.Kind {
	case domain.OutputFinish:
		if ev.Reason == domain.FinishToolCalls {
			return []string{Separator}
		}
	case domain.OutputActionCallChunk:
		if ev.Chunk == nil {
			return nil
		}
		var out []string
		if ev.Chunk.Name != "" {
			out = append(out, ActionHeader(ev.Chunk.Name))
		}
		if ev.Chunk.Arguments != "" {
			out = append(out, ev.Chunk.Arguments)
		}
		return out
	case domain.OutputToken:
		if s := Text(ev.Content); s != "" {
			return []string{s}
		}
	}
	return nil
}

// Text returns the canonical text form of model content.
func Text(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case fmt.Stringer:
		return c.String()
	case []any:
		var s string
		for _, part := range c {
			s += Text(part)
		}
		return s
	case map[string]any:
		// Content parts in the {"type":"text","text":...} shape.
		if t, ok := c["text"].(string); ok {
			return t
		}
	}
	if b, err := json.Marshal(content); err == nil {
		return string(b)
	}
	return fmt.Sprint(content)
}
