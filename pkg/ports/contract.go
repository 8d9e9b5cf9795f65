package ports

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/domain"
)

// RunRunStoreContract runs a suite of tests to verify that a RunStore implementation
// adheres to the defined interface contract.
func RunRunStoreContract(t *testing.T, store RunStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405")

	newRun := func(id string) *domain.Run {
		state := domain.NewState("what is 2+2?", 5)
		state.Messages = []domain.Message{{Role: domain.RoleUser, Content: "what is 2+2?"}}
		state.Todos = []domain.TodoItem{{ID: 1, Title: "Add", Status: domain.TodoPending}}
		state.Metadata = map[string]any{"foo": "bar"}
		return &domain.Run{
			ID:          id,
			Graph:       "autonomous",
			CurrentNode: "classify",
			Steps:       3,
			Visited:     []string{"start", "mem_inject", "guard_cls"},
			State:       state,
			CreatedAt:   time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		run := newRun(runID)
		require.NoError(t, store.Save(ctx, run), "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, run.CurrentNode, loaded.CurrentNode)
		assert.Equal(t, run.Steps, loaded.Steps)
		assert.Equal(t, run.Visited, loaded.Visited)
		assert.Equal(t, run.State.Input, loaded.State.Input)
		assert.Equal(t, run.State.Messages, loaded.State.Messages)
		assert.Equal(t, run.State.Todos, loaded.State.Todos)
		assert.Equal(t, "bar", loaded.State.Metadata["foo"])
		assert.True(t, run.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Load Is Isolated From Caller", func(t *testing.T) {
		run := newRun(runID + "-iso")
		require.NoError(t, store.Save(ctx, run))
		defer func() { _ = store.Delete(ctx, run.ID) }()

		run.State.Messages[0].Content = "mutated"
		loaded, err := store.Load(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "what is 2+2?", loaded.State.Messages[0].Content)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newRun(runID)))

		require.NoError(t, store.Delete(ctx, runID), "Delete should not return error")

		_, err := store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")

		assert.NoError(t, store.Delete(ctx, runID), "Deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-1"
		id2 := runID + "-2"
		require.NoError(t, store.Save(ctx, newRun(id1)))
		require.NoError(t, store.Save(ctx, newRun(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, id1)
		assert.Contains(t, runs, id2)
	})
}

// RunMemoryStoreContract verifies the recording and retrieval behaviour every
// MemoryStore must provide.
func RunMemoryStoreContract(t *testing.T, store MemoryStore) {
	ctx := context.Background()
	session := "contract-memory-" + time.Now().Format("20060102150405")

	t.Run("Search Empty Session", func(t *testing.T) {
		refs, err := store.Search(ctx, session+"-empty", "anything", 5)
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("Record and Search", func(t *testing.T) {
		require.NoError(t, store.Record(ctx, session, domain.RoleUser, "The capital of France is Paris"))
		require.NoError(t, store.Record(ctx, session, domain.RoleAssistant, "Bananas are yellow"))
		require.NoError(t, store.Record(ctx, session, domain.RoleUser, "Paris hosts the Louvre museum"))

		refs, err := store.Search(ctx, session, "capital of France", 5)
		require.NoError(t, err)
		require.NotEmpty(t, refs)
		assert.Contains(t, refs[0].ContentSummary, "capital of France")

		keys := make(map[string]bool)
		for _, r := range refs {
			assert.NotEmpty(t, r.SourceKey)
			assert.False(t, keys[r.SourceKey], "duplicate source key %s", r.SourceKey)
			keys[r.SourceKey] = true
			assert.NotContains(t, r.ContentSummary, "Bananas")
		}
	})

	t.Run("Max Results", func(t *testing.T) {
		refs, err := store.Search(ctx, session, "Paris", 1)
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("Sessions Are Isolated", func(t *testing.T) {
		refs, err := store.Search(ctx, session+"-other", "Paris", 5)
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}

// RunGraphLoaderContract verifies that a GraphLoader serves every expected graph
// and reports unknown names with domain.ErrGraphNotFound.
func RunGraphLoaderContract(t *testing.T, loader GraphLoader, expected []string) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load_Success", func(t *testing.T) {
		for _, name := range expected {
			def, err := loader.Load(ctx, name)
			require.NoError(t, err, "loading %s", name)
			assert.Equal(t, name, def.Name)
			assert.NotEmpty(t, def.Nodes, "graph %s has no nodes", name)
		}
	})

	t.Run("Load_NotFound", func(t *testing.T) {
		_, err := loader.Load(ctx, "non-existent-graph")
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	})

	t.Run("List", func(t *testing.T) {
		names, err := loader.List(ctx)
		require.NoError(t, err)
		for _, name := range expected {
			assert.Contains(t, names, name)
		}
		assert.True(t, sort.StringsAreSorted(names), "names should be sorted: %v", names)
	})
}
