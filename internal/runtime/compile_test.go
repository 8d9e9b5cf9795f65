package runtime_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/nodes"
	"github.com/aretw0/pergola/pkg/templates"
)

func mustTemplate(t *testing.T, name string) domain.GraphDefinition {
	t.Helper()
	def, err := templates.Get(name)
	require.NoError(t, err)
	return def
}

func rules(t *testing.T, err error) []string {
	t.Helper()
	var ce *runtime.CompileError
	require.True(t, errors.As(err, &ce), "expected *CompileError, got %v", err)
	var out []string
	for _, issue := range ce.Issues {
		out = append(out, issue.Rule)
	}
	return out
}

func TestCompile_Templates(t *testing.T) {
	for _, name := range templates.Names() {
		t.Run(name, func(t *testing.T) {
			g, err := runtime.Compile(mustTemplate(t, name), nodes.Builtin())
			require.NoError(t, err)
			assert.Equal(t, "start", g.Entry())
			assert.Equal(t, "end", g.Terminal())
			assert.Len(t, g.Fingerprint(), 64)
		})
	}
}

func TestCompile_FingerprintIsStable(t *testing.T) {
	def := mustTemplate(t, templates.Autonomous)
	a, err := runtime.Fingerprint(def)
	require.NoError(t, err)
	b, err := runtime.Fingerprint(mustTemplate(t, templates.Autonomous))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	def.Nodes[1].Label = "changed"
	c, err := runtime.Fingerprint(def)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCompile_BranchTable(t *testing.T) {
	g, err := runtime.Compile(mustTemplate(t, templates.Autonomous), nodes.Builtin())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"approved": "end",
		"retry":    "gate_med",
		"end":      "end",
	}, g.Branches("review"))
	assert.Nil(t, g.Branches("answer"))
	assert.True(t, g.IsTerminal("end"))
	assert.False(t, g.IsTerminal("review"))
}

func TestCompile_ReportsAllIssues(t *testing.T) {
	def := domain.GraphDefinition{
		Name: "broken",
		Nodes: []domain.NodeSpec{
			{ID: "a", Kind: "teleport"},
			{ID: "b", Kind: nodes.KindAnswer, Config: map[string]any{"bogus": 1}},
			{ID: "b", Kind: nodes.KindAnswer},
		},
		Edges: []domain.Edge{{Source: "a", Target: "ghost"}},
	}

	_, err := runtime.Compile(def, nodes.Builtin())
	require.Error(t, err)
	got := rules(t, err)
	assert.Contains(t, got, "node_kind")
	assert.Contains(t, got, "node_config")
	assert.Contains(t, got, "node_id")
	assert.Contains(t, got, "start_node")
	assert.Contains(t, got, "end_node")
	assert.Contains(t, err.Error(), `graph "broken" is invalid`)
}

func TestCompile_EdgeRules(t *testing.T) {
	base := func() domain.GraphDefinition {
		return domain.GraphDefinition{
			Name: "edges",
			Nodes: []domain.NodeSpec{
				{ID: "start", Kind: domain.KindStart},
				{ID: "cls", Kind: nodes.KindClassify},
				{ID: "easy", Kind: nodes.KindDirectAnswer},
				{ID: "end", Kind: domain.KindEnd},
			},
			Edges: []domain.Edge{
				{Source: "start", Target: "cls"},
				{Source: "cls", Target: "easy", Port: "easy"},
				{Source: "cls", Target: "easy", Port: "medium"},
				{Source: "cls", Target: "easy", Port: "hard"},
				{Source: "cls", Target: "end", Port: "end"},
				{Source: "easy", Target: "end"},
			},
		}
	}

	_, err := runtime.Compile(base(), nodes.Builtin())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*domain.GraphDefinition)
		rule   string
	}{
		{"Missing Branch", func(d *domain.GraphDefinition) { d.Edges = append(d.Edges[:1], d.Edges[2:]...) }, "branch_missing"},
		{"Unknown Branch", func(d *domain.GraphDefinition) {
			d.Edges = append(d.Edges, domain.Edge{Source: "cls", Target: "end", Port: "extreme"})
		}, "branch_unknown"},
		{"Duplicate Branch", func(d *domain.GraphDefinition) {
			d.Edges = append(d.Edges, domain.Edge{Source: "cls", Target: "end", Port: "easy"})
		}, "branch_duplicate"},
		{"Two Successors", func(d *domain.GraphDefinition) {
			d.Edges = append(d.Edges, domain.Edge{Source: "easy", Target: "cls"})
		}, "successor"},
		{"No Successor", func(d *domain.GraphDefinition) { d.Edges = d.Edges[:5] }, "successor"},
		{"Ported Static Edge", func(d *domain.GraphDefinition) { d.Edges[5].Port = "yes" }, "successor"},
		{"Unknown Target", func(d *domain.GraphDefinition) { d.Edges[5].Target = "ghost" }, "edge_target"},
		{"Unknown Source", func(d *domain.GraphDefinition) {
			d.Edges = append(d.Edges, domain.Edge{Source: "ghost", Target: "end"})
		}, "edge_source"},
		{"End With Outgoing", func(d *domain.GraphDefinition) {
			d.Edges = append(d.Edges, domain.Edge{Source: "end", Target: "easy"})
		}, "end_outgoing"},
		{"Back To Start", func(d *domain.GraphDefinition) { d.Edges[5].Target = "start" }, "start_incoming"},
		{"Bad Review Config", func(d *domain.GraphDefinition) {
			d.Nodes[2] = domain.NodeSpec{ID: "easy", Kind: nodes.KindReview, Config: map[string]any{"allowed_verdicts": []any{"approved"}}}
		}, "node_config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(&def)
			_, err := runtime.Compile(def, nodes.Builtin())
			require.Error(t, err)
			assert.Contains(t, rules(t, err), tt.rule)
		})
	}
}

func TestCompile_Reachability(t *testing.T) {
	def := domain.GraphDefinition{
		Name: "reach",
		Nodes: []domain.NodeSpec{
			{ID: "start", Kind: domain.KindStart},
			{ID: "a", Kind: nodes.KindStateSetter},
			{ID: "orphan", Kind: nodes.KindStateSetter},
			{ID: "end", Kind: domain.KindEnd},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "a"},
			{Source: "a", Target: "end"},
			{Source: "orphan", Target: "end"},
		},
	}
	_, err := runtime.Compile(def, nodes.Builtin())
	require.Error(t, err)
	assert.Equal(t, []string{"unreachable"}, rules(t, err))

	trap := domain.GraphDefinition{
		Name: "trap",
		Nodes: []domain.NodeSpec{
			{ID: "start", Kind: domain.KindStart},
			{ID: "gate", Kind: nodes.KindIterationGate},
			{ID: "x", Kind: nodes.KindStateSetter},
			{ID: "y", Kind: nodes.KindStateSetter},
			{ID: "end", Kind: domain.KindEnd},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "gate"},
			{Source: "gate", Target: "x", Port: "continue"},
			{Source: "gate", Target: "end", Port: "stop"},
			{Source: "x", Target: "y"},
			{Source: "y", Target: "x"},
		},
	}
	_, err = runtime.Compile(trap, nodes.Builtin())
	require.Error(t, err)
	got := rules(t, err)
	assert.Equal(t, []string{"dead_end", "dead_end"}, got)
}

func TestCompile_DynamicBranches(t *testing.T) {
	def := domain.GraphDefinition{
		Name: "router",
		Nodes: []domain.NodeSpec{
			{ID: "start", Kind: domain.KindStart},
			{ID: "r", Kind: nodes.KindConditionalRouter, Config: map[string]any{
				"routing_field": "review_result",
				"route_map":     map[string]any{"approved": "ship"},
			}},
			{ID: "end", Kind: domain.KindEnd},
		},
		Edges: []domain.Edge{
			{Source: "start", Target: "r"},
			{Source: "r", Target: "end"},
		},
	}
	_, err := runtime.Compile(def, nodes.Builtin())
	require.Error(t, err)
	assert.Equal(t, []string{"branch_missing"}, rules(t, err))

	def.Edges = append(def.Edges, domain.Edge{Source: "r", Target: "end", Port: "ship"})
	_, err = runtime.Compile(def, nodes.Builtin())
	assert.NoError(t, err)
}

func TestAnalyzeFields(t *testing.T) {
	g, err := runtime.Compile(mustTemplate(t, templates.Simple), nodes.Builtin())
	require.NoError(t, err)

	u := g.AnalyzeFields()
	assert.Equal(t, []string{"llm"}, u.Writers["final_answer"])
	assert.ElementsMatch(t, []string{"mem", "llm"}, u.Readers["input"])
	assert.Contains(t, u.Unused, "todos")
	assert.NotContains(t, u.Unused, "final_answer")

	auto, err := runtime.Compile(mustTemplate(t, templates.Autonomous), nodes.Builtin())
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, auto.AnalyzeFields().Writers["review_count"])
}
