package pergola_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/adapters/file"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/adapters/scripted"
	"github.com/aretw0/pergola/pkg/budget"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/templates"
)

// callCounter counts model calls per node.
type callCounter map[string]int

func (c callCounter) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnModelCall: func(_ context.Context, e *domain.ModelEvent) {
			c[e.NodeID]++
		},
	}
}

func newEngine(t *testing.T, inv *scripted.Invoker, opts ...pergola.Option) (*pergola.Engine, callCounter) {
	t.Helper()
	calls := callCounter{}
	opts = append([]pergola.Option{pergola.WithLifecycleHooks(calls.hooks())}, opts...)
	eng, err := pergola.New(context.Background(), templates.Autonomous, inv, opts...)
	require.NoError(t, err)
	return eng, calls
}

func TestScenario_EasyDirectAnswer(t *testing.T) {
	inv := scripted.New("easy", "2 + 2 = 4")
	eng, calls := newEngine(t, inv)
	ctx := context.Background()

	id, err := eng.StartRun(ctx, "What is 2+2?", 5)
	require.NoError(t, err)
	run, err := eng.Resume(ctx, id)
	require.NoError(t, err)

	assert.True(t, run.State.IsComplete)
	assert.Empty(t, run.State.Error)
	assert.Equal(t, domain.DifficultyEasy, run.State.Difficulty)
	assert.Equal(t, "2 + 2 = 4", run.State.FinalAnswer)

	assert.Equal(t, 1, calls["dir_ans"], "exactly one answering call")
	assert.Equal(t, 2, inv.Calls(), "classification plus the direct answer")
	assert.Equal(t, []string{"start", "mem_inject", "guard_cls", "classify", "guard_dir", "dir_ans", "post_dir", "end"}, run.Visited)
}

func TestScenario_MediumReviewLoop(t *testing.T) {
	inv := scripted.New(
		"medium",
		"draft one",
		"VERDICT: retry\nFEEDBACK: too short",
		"draft two",
		"VERDICT: retry\nFEEDBACK: cite a source",
		"draft three",
		"VERDICT: approved\nFEEDBACK: good",
	)
	eng, calls := newEngine(t, inv)

	state, err := eng.RunToCompletion(context.Background(), "Explain photosynthesis")
	require.NoError(t, err)

	assert.Equal(t, 3, calls["answer"])
	assert.Equal(t, 3, calls["review"])
	assert.Equal(t, 2, state.ReviewCount)
	assert.Equal(t, domain.ReviewApproved, state.ReviewResult)
	assert.Equal(t, "draft three", state.FinalAnswer)
	assert.True(t, state.IsComplete)
	assert.Zero(t, inv.Remaining())

	prompts := inv.Prompts()
	assert.Contains(t, prompts[3], "too short", "the retry prompt carries the review feedback")
}

func TestScenario_HardPlanHitsIterationCeiling(t *testing.T) {
	inv := scripted.New(
		"hard",
		`[{"id": 1, "title": "Research"}, {"id": 2, "title": "Outline"}, {"id": 3, "title": "Draft"}, {"id": 4, "title": "Edit"}]`,
		"research notes",
		"outline done",
		"review: two of four items done",
		"the final report",
	)
	eng, calls := newEngine(t, inv)
	ctx := context.Background()

	id, err := eng.StartRun(ctx, "Write a report on tides", 3)
	require.NoError(t, err)
	run, err := eng.Resume(ctx, id)
	require.NoError(t, err)
	s := run.State

	assert.Equal(t, "iteration limit (3/3)", s.Metadata["stop_reason"])
	assert.Equal(t, 2, calls["exec_todo"])

	require.Len(t, s.Todos, 4)
	assert.Equal(t, domain.TodoCompleted, s.Todos[0].Status)
	assert.Equal(t, domain.TodoCompleted, s.Todos[1].Status)
	assert.Equal(t, domain.TodoPending, s.Todos[2].Status)
	assert.Equal(t, domain.TodoPending, s.Todos[3].Status)

	assert.Equal(t, "the final report", s.FinalAnswer)
	assert.True(t, s.IsComplete)
	assert.Empty(t, s.Error)

	// The gate stops once after the third increment; the final chain follows.
	gate := indexOf(run.Visited, "gate_hard", 2)
	require.GreaterOrEqual(t, gate, 0)
	assert.Equal(t, "guard_fr", run.Visited[gate+1])
	assert.Equal(t, 3, countOf(run.Visited[:gate], "post_todos")+countOf(run.Visited[:gate], "post_exec"))
}

func TestScenario_MediumLoopCutShortKeepsDraft(t *testing.T) {
	inv := scripted.New("medium", "draft one", "VERDICT: retry\nFEEDBACK: expand it")
	eng, _ := newEngine(t, inv)
	ctx := context.Background()

	id, err := eng.StartRun(ctx, "Explain tides", 1)
	require.NoError(t, err)
	run, err := eng.Resume(ctx, id)
	require.NoError(t, err)
	s := run.State

	assert.Equal(t, "iteration limit (1/1)", s.Metadata["stop_reason"])
	assert.True(t, s.IsComplete)
	assert.Empty(t, s.Error)
	assert.Equal(t, "draft one", s.FinalAnswer)
	assert.Equal(t, []string{"review", "gate_med", "end"}, run.Visited[len(run.Visited)-3:])
}

func TestScenario_FinalAnswerDropsMarkers(t *testing.T) {
	inv := scripted.New("easy", "Result is 4. [TASK_COMPLETE]")
	eng, _ := newEngine(t, inv)

	state, err := eng.RunToCompletion(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "Result is 4.", state.FinalAnswer)
	assert.Equal(t, domain.SignalComplete, state.CompletionSignal)
}

func TestScenario_ModelFailureShortCircuits(t *testing.T) {
	inv := scripted.New("medium").Fail("connection reset")
	eng, calls := newEngine(t, inv)
	ctx := context.Background()

	id, err := eng.StartRun(ctx, "Summarise this", 5)
	require.NoError(t, err)
	run, err := eng.Resume(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "connection reset", run.State.Error)
	assert.True(t, run.State.IsComplete)
	assert.Equal(t, 2, inv.Calls(), "no model call after the failure")
	assert.Zero(t, calls["review"])
	assert.Equal(t, []string{"start", "mem_inject", "guard_cls", "classify", "guard_ans", "answer", "end"}, run.Visited)
}

func indexOf(list []string, s string, nth int) int {
	seen := 0
	for i, v := range list {
		if v == s {
			seen++
			if seen == nth {
				return i
			}
		}
	}
	return -1
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

func TestEngine_StepByStep(t *testing.T) {
	inv := scripted.New("easy", "4")
	eng, _ := newEngine(t, inv)
	ctx := context.Background()

	id, err := eng.StartRun(ctx, "2+2?", 0)
	require.NoError(t, err)

	run, err := eng.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "start", run.CurrentNode)
	assert.Equal(t, pergola.DefaultMaxIterations, run.State.MaxIterations)

	var nodes []string
	for {
		res, err := eng.Step(ctx, id)
		require.NoError(t, err)
		nodes = append(nodes, res.Node)
		if res.Done {
			assert.Equal(t, "4", res.State.FinalAnswer)
			break
		}
	}
	assert.Equal(t, "end", nodes[len(nodes)-1])

	res, err := eng.Step(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRunFinished)
	assert.True(t, res.Done)
	assert.Equal(t, "4", res.State.FinalAnswer)

	ids, err := eng.ListRuns(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	require.NoError(t, eng.DeleteRun(ctx, id))
	_, err = eng.Step(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestEngine_ResumeAfterCancellation(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	first, err := pergola.New(ctx, templates.Autonomous, scripted.New("easy"),
		pergola.WithStore(store), pergola.WithIDGenerator(func() string { return "run-1" }))
	require.NoError(t, err)

	id, err := first.StartRun(ctx, "hello", 3)
	require.NoError(t, err)

	// Run until the model is exhausted on the direct answer, then cancel.
	for i := 0; i < 5; i++ {
		_, err := first.Step(ctx, id)
		require.NoError(t, err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = first.Step(cancelled, id)
	assert.ErrorIs(t, err, context.Canceled)

	run, err := first.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dir_ans", run.CurrentNode)

	// A fresh process picks the run up from disk.
	second, err := pergola.New(ctx, templates.Autonomous, scripted.New("hi there"), pergola.WithStore(file.New(dir)))
	require.NoError(t, err)
	run, err = second.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hi there", run.State.FinalAnswer)
}

func TestEngine_GraphChanged(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	eng, err := pergola.New(ctx, templates.Autonomous, scripted.New(), pergola.WithStore(store))
	require.NoError(t, err)
	id, err := eng.StartRun(ctx, "x", 1)
	require.NoError(t, err)

	other, err := pergola.New(ctx, templates.Simple, scripted.New(), pergola.WithStore(store))
	require.NoError(t, err)
	_, err = other.Step(ctx, id)
	assert.ErrorIs(t, err, domain.ErrGraphChanged)
}

// cancellingInvoker cancels the run's context on the given call.
type cancellingInvoker struct {
	*scripted.Invoker
	on     int
	cancel context.CancelFunc
}

func (c *cancellingInvoker) Invoke(ctx context.Context, messages []domain.Message) (string, error) {
	if c.Calls()+1 == c.on {
		c.cancel()
	}
	return c.Invoker.Invoke(ctx, messages)
}

func TestEngine_CancelledRunKeepsMergedState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := &cancellingInvoker{Invoker: scripted.New("medium", "draft", "VERDICT: approved\nFEEDBACK: fine"), on: 2, cancel: cancel}

	eng, err := pergola.New(context.Background(), templates.Autonomous, inv)
	require.NoError(t, err)

	state, err := eng.RunToCompletion(ctx, "Explain photosynthesis")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "Explain photosynthesis", state.Input)
	assert.Equal(t, domain.DifficultyMedium, state.Difficulty)
	assert.NotEmpty(t, state.Messages)
	assert.False(t, state.IsComplete)
	assert.Empty(t, state.Answer)

	ids, err := eng.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	run, err := eng.Resume(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "draft", run.State.FinalAnswer, "the cancelled step runs again on resume")
}

func TestEngine_SimpleTemplateWithMemory(t *testing.T) {
	mem := memory.NewRecall(0)
	inv := scripted.New("Paris is the capital of France.", "Yes, Paris.")
	ctx := context.Background()

	eng, err := pergola.New(ctx, templates.Simple, inv,
		pergola.WithMemory(mem), pergola.WithIDGenerator(func() string { return "session" }))
	require.NoError(t, err)

	state, err := eng.RunToCompletion(ctx, "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", state.FinalAnswer)
	assert.True(t, state.IsComplete)

	entries := mem.Entries("session")
	require.Len(t, entries, 2)
	assert.Equal(t, domain.RoleUser, entries[0].Role)
	assert.Equal(t, domain.RoleAssistant, entries[1].Role)
}

func TestEngine_BudgetDefaults(t *testing.T) {
	inv := scripted.New("easy", "short")
	eng, _ := newEngine(t, inv, pergola.WithBudget(budget.Guard{Limit: 10}))

	state, err := eng.RunToCompletion(context.Background(), "a question long enough to cross a ten token budget, surely")
	require.NoError(t, err)
	assert.Equal(t, 10, state.ContextBudget.Limit)
	assert.True(t, state.ContextBudget.Status.Tight())

	for _, n := range eng.Definition().Nodes {
		if n.Kind == "context_guard" {
			assert.Equal(t, 10, n.Config["limit"])
		}
	}
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := pergola.New(ctx, "missing", scripted.New())
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)

	_, err = pergola.New(ctx, templates.Simple, nil)
	assert.Error(t, err)

	broken := domain.GraphDefinition{Name: "broken", Nodes: []domain.NodeSpec{{ID: "a", Kind: "nope"}}}
	_, err = pergola.New(ctx, "", scripted.New(), pergola.WithDefinition(broken))
	assert.Error(t, err)
}
