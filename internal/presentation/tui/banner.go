package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the goop ASCII art banner followed by the version.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()
	lines := []struct {
		text, color string
	}{
		{"    __ _  ___   ___  _ __  ", "#34d399"},
		{"   / _` |/ _ \\ / _ \\| '_ \\ ", "#2dd4bf"},
		{"  | (_| | (_) | (_) | |_) |", "#22d3ee"},
		{"   \\__, |\\___/ \\___/| .__/ ", "#38bdf8"},
		{"   |___/            |_|    ", "#60a5fa"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(p.Color(l.color)))
	}
	if version != "" {
		fmt.Fprintln(w, out.String("   "+version).Faint())
	}
	fmt.Fprintln(w)
}
