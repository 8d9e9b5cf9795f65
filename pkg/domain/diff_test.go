package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	base := &Run{
		ID:          "run-1",
		CurrentNode: "classify",
		Steps:       3,
		Visited:     []string{"start", "mem_inject", "guard_cls"},
		State:       NewState("hello", 5),
	}

	t.Run("Initial Load (Old is Nil)", func(t *testing.T) {
		got := Diff(nil, base)
		require.NotNil(t, got)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "classify", *got.CurrentNode)
		assert.Equal(t, 3, *got.Steps)
		assert.Nil(t, got.Done)
		assert.Equal(t, []string{"start", "mem_inject", "guard_cls"}, got.Visited.Appended)
		assert.Equal(t, "hello", got.State["input"])
	})

	t.Run("No Changes", func(t *testing.T) {
		assert.Nil(t, Diff(base, base.Clone()))
	})

	t.Run("Step Advances", func(t *testing.T) {
		next := base.Clone()
		next.CurrentNode = "guard_dir"
		next.Steps = 4
		next.Visited = append(next.Visited, "classify")
		next.State.Difficulty = DifficultyEasy

		got := Diff(base, next)
		require.NotNil(t, got)
		assert.Equal(t, "guard_dir", *got.CurrentNode)
		assert.Equal(t, []string{"classify"}, got.Visited.Appended)
		assert.Equal(t, map[string]any{"difficulty": "easy"}, got.State)
	})

	t.Run("Field Cleared", func(t *testing.T) {
		old := base.Clone()
		old.State.CompletionSignal = SignalContinue
		got := Diff(old, base)
		require.NotNil(t, got)
		assert.Contains(t, got.State, "completion_signal")
		assert.Nil(t, got.State["completion_signal"])
	})

	t.Run("Serializes Sparse", func(t *testing.T) {
		next := base.Clone()
		next.Done = true
		raw, err := json.Marshal(Diff(base, next))
		require.NoError(t, err)
		assert.JSONEq(t, `{"run_id":"run-1","done":true}`, string(raw))
	})
}

func TestPatchFields(t *testing.T) {
	p := Patch{
		Iteration:        Ptr(2),
		CompletionSignal: Ptr(SignalComplete),
		Messages:         []Message{{Role: RoleAssistant, Content: "x"}},
	}
	assert.Equal(t, []string{"messages", "iteration", "completion_signal"}, p.Fields())
	assert.False(t, p.IsEmpty())
	assert.True(t, Patch{}.IsEmpty())
}

func TestParseEnums(t *testing.T) {
	d, err := ParseDifficulty(" Hard ")
	require.NoError(t, err)
	assert.Equal(t, DifficultyHard, d)

	_, err = ParseDifficulty("medium-hard")
	assert.Error(t, err)

	r, err := ParseReviewResult("REJECTED")
	require.NoError(t, err)
	assert.Equal(t, ReviewRetry, r)

	assert.True(t, SignalBlocked.Terminal())
	assert.False(t, SignalContinue.Terminal())
	assert.False(t, SignalNone.Terminal())
	assert.True(t, BudgetOverflow.Tight())
	assert.False(t, BudgetWarn.Tight())
}
