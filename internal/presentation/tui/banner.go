package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the ASCII art banner.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"  _ __   ___ _ __ __ _  ___ | | __ _ ", "#34d399"},
		{" | '_ \\ / _ \\ '__/ _` |/ _ \\| |/ _` |", "#10b981"},
		{" | |_) |  __/ | | (_| | (_) | | (_| |", "#059669"},
		{" | .__/ \\___|_|  \\__, |\\___/|_|\\__,_|", "#047857"},
		{" |_|             |___/               ", "#065f46"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
