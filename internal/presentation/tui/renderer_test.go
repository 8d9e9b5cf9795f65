package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/pergola/pkg/domain"
)

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{Out: &buf}

	p.Run(&domain.Run{
		ID:    "r1",
		Steps: 12,
		State: domain.State{
			Iteration:     3,
			MaxIterations: 3,
			Difficulty:    domain.DifficultyHard,
			Todos: []domain.TodoItem{
				{ID: 1, Title: "Research", Status: domain.TodoCompleted},
				{ID: 2, Title: "Write", Status: domain.TodoPending},
			},
			Metadata:    map[string]any{"stop_reason": "iteration limit (3/3)"},
			FinalAnswer: "  The report.  ",
		},
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "run r1  steps=12 iterations=3/3 difficulty=hard\n"))
	assert.Contains(t, out, "stopped: iteration limit (3/3)\n")
	assert.Contains(t, out, "  [x] 1. Research\n")
	assert.Contains(t, out, "  [ ] 2. Write\n")
	assert.True(t, strings.HasSuffix(out, "\nThe report.\n"))
	assert.NotContains(t, out, "\x1b[")
}

func TestPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{Out: &buf}

	p.Run(&domain.Run{ID: "r2", State: domain.State{Error: "connection reset"}})
	assert.Contains(t, buf.String(), "error: connection reset\n")
}

func TestNewRenderer(t *testing.T) {
	render := NewRenderer(40)
	out, err := render("# Title\n\nbody")
	assert.NoError(t, err)
	assert.Contains(t, out, "Title")
}
