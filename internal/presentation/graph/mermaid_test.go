package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/pergola/internal/presentation/graph"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/templates"
)

func TestGenerateMermaid(t *testing.T) {
	def := domain.GraphDefinition{
		Name: "demo",
		Nodes: []domain.NodeSpec{
			{ID: "start", Kind: domain.KindStart},
			{ID: "pick", Kind: "conditional_router", Label: `Pick "one"`},
			{ID: "a-1", Kind: "llm_call"},
			{ID: "end", Kind: domain.KindEnd},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "pick"},
			{Source: "pick", Target: "a-1", Port: "yes"},
			{Source: "pick", Target: "end", Port: "no", Label: "Nope"},
			{Source: "a-1", Target: "end"},
		},
	}

	tests := []struct {
		name     string
		overlay  *graph.GraphOverlay
		contains []string
		excludes []string
	}{
		{
			name: "Shapes and edges",
			contains: []string{
				"graph TD\n",
				`start(("start"))`,
				`end_(("end"))`,
				`pick{"Pick 'one'<br/><i>conditional_router</i>"}`,
				`a_1["a-1<br/><i>llm_call</i>"]`,
				"start --> pick",
				`pick -- "yes" --> a_1`,
				`pick -- "Nope" --> end_`,
				"a_1 --> end_",
			},
			excludes: []string{"classDef"},
		},
		{
			name:    "Overlay",
			overlay: &graph.GraphOverlay{VisitedNodes: []string{"start", "pick", "pick", "ghost"}, CurrentNode: "a-1"},
			contains: []string{
				"classDef visited",
				"class start visited;",
				"class pick visited;",
				"class a_1 current;",
			},
			excludes: []string{"class ghost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(def, tt.overlay)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, got, unwanted)
			}
			if tt.overlay != nil {
				assert.Equal(t, 1, strings.Count(got, "class pick visited;"))
			}
		})
	}
}

func TestGenerateMermaid_Autonomous(t *testing.T) {
	def, err := templates.Get(templates.Autonomous)
	assert.NoError(t, err)

	got := graph.GenerateMermaid(def, nil)
	assert.Contains(t, got, `classify{"Classify<br/><i>classify</i>"}`)
	assert.Contains(t, got, `classify -- "Hard" --> guard_todo`)
	assert.Contains(t, got, "post_fa --> end_")
}

func TestOverlayFromRun(t *testing.T) {
	assert.Nil(t, graph.OverlayFromRun(nil))

	o := graph.OverlayFromRun(&domain.Run{CurrentNode: "b", Visited: []string{"a"}})
	assert.Equal(t, "b", o.CurrentNode)

	o = graph.OverlayFromRun(&domain.Run{CurrentNode: "end", Done: true, Visited: []string{"a", "end"}})
	assert.Empty(t, o.CurrentNode)
	assert.Equal(t, []string{"a", "end"}, o.VisitedNodes)
}
