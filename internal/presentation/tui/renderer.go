package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/aretw0/pergola/pkg/domain"
)

// NewRenderer returns a function that renders markdown using glamour.
// A zero width keeps glamour's default word wrap.
func NewRenderer(width int) func(string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of f, or 0 when it is not a terminal.
func TerminalWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// Printer writes run summaries. Rich output styles text and renders the
// answer as markdown; plain output is stable for pipes and tests.
type Printer struct {
	Out      io.Writer
	Rich     bool
	Markdown func(string) (string, error)
}

// NewPrinter configures rich output when f is a terminal.
func NewPrinter(f *os.File) *Printer {
	p := &Printer{Out: f}
	if IsTerminal(f) {
		p.Rich = true
		p.Markdown = NewRenderer(TerminalWidth(f))
	}
	return p
}

func (p *Printer) style(s, color string) string {
	if !p.Rich {
		return s
	}
	return termenv.String(s).Foreground(termenv.ColorProfile().Color(color)).String()
}

// Run prints the outcome of a run.
func (p *Printer) Run(run *domain.Run) {
	s := run.State
	fmt.Fprintf(p.Out, "%s %s  steps=%d iterations=%d/%d", p.style("run", "#818cf8"), run.ID, run.Steps, s.Iteration, s.MaxIterations)
	if s.Difficulty != "" {
		fmt.Fprintf(p.Out, " difficulty=%s", s.Difficulty)
	}
	fmt.Fprintln(p.Out)

	if reason, ok := s.Metadata["stop_reason"].(string); ok && reason != "" {
		fmt.Fprintf(p.Out, "%s %s\n", p.style("stopped:", "#fbbf24"), reason)
	}
	if s.CompletionSignal != domain.SignalNone && s.CompletionSignal != domain.SignalContinue {
		fmt.Fprintf(p.Out, "signal: %s %s\n", s.CompletionSignal, s.CompletionDetail)
	}

	if len(s.Todos) > 0 {
		fmt.Fprintln(p.Out, "todos:")
		for _, t := range s.Todos {
			mark := "[ ]"
			if t.Status == domain.TodoCompleted {
				mark = p.style("[x]", "#34d399")
			}
			fmt.Fprintf(p.Out, "  %s %d. %s\n", mark, t.ID, t.Title)
		}
	}

	if s.Error != "" {
		fmt.Fprintf(p.Out, "%s %s\n", p.style("error:", "#f87171"), s.Error)
	}
	if s.FinalAnswer != "" {
		p.Answer(s.FinalAnswer)
	}
}

// Answer prints a final answer, rendered as markdown on rich output.
func (p *Printer) Answer(text string) {
	if p.Rich && p.Markdown != nil {
		if out, err := p.Markdown(text); err == nil {
			fmt.Fprint(p.Out, out)
			return
		}
	}
	fmt.Fprintln(p.Out)
	fmt.Fprintln(p.Out, strings.TrimSpace(text))
}
