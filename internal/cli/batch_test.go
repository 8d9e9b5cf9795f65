package cli

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/adapters/scripted"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/templates"
)

func TestRunBatch(t *testing.T) {
	var n atomic.Int64
	eng, err := pergola.New(context.Background(), templates.Simple, scripted.New("a", "a", "a"),
		pergola.WithIDGenerator(func() string { return "run-" + string(rune('0'+n.Add(1))) }))
	require.NoError(t, err)

	results, err := RunBatch(context.Background(), eng, []string{"one", "two", "three"}, 0, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, in := range []string{"one", "two", "three"} {
		assert.Equal(t, in, results[i].Input)
		require.NoError(t, results[i].Err)
		assert.True(t, results[i].Run.Done)
		assert.Equal(t, "a", results[i].Run.State.FinalAnswer)
		assert.Equal(t, in, results[i].Run.State.Input)
	}
}

type flakyRunner struct{}

func (flakyRunner) StartRun(_ context.Context, input string, _ int) (string, error) {
	if input == "bad" {
		return "", errors.New("refused")
	}
	return "id-" + input, nil
}

func (flakyRunner) Resume(_ context.Context, runID string) (*domain.Run, error) {
	return &domain.Run{ID: runID, Done: true}, nil
}

func TestRunBatch_FailureDoesNotStopOthers(t *testing.T) {
	results, err := RunBatch(context.Background(), flakyRunner{}, []string{"good", "bad", "fine"}, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, "id-good", results[0].Run.ID)
	assert.EqualError(t, results[1].Err, "refused")
	assert.Equal(t, "refused", results[1].Error)
	assert.Equal(t, "id-fine", results[2].Run.ID)
}

func TestRunBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := RunBatch(ctx, flakyRunner{}, []string{"x", "y"}, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 2)
	assert.Nil(t, results[0].Run)
}
