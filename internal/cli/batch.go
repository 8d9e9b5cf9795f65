package cli

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/pergola/pkg/domain"
)

// Runner is the part of the engine a batch drives.
type Runner interface {
	StartRun(ctx context.Context, input string, maxIterations int) (string, error)
	Resume(ctx context.Context, runID string) (*domain.Run, error)
}

// BatchResult is the outcome of one batch input, in input order.
type BatchResult struct {
	Input string      `json:"input"`
	RunID string      `json:"run_id,omitempty"`
	Run   *domain.Run `json:"run,omitempty"`
	Err   error       `json:"-"`
	Error string      `json:"error,omitempty"`
}

// RunBatch runs every input to completion with at most concurrency runs in
// flight. A failed run is reported in its result and does not stop the
// others; only cancellation of ctx does.
func RunBatch(ctx context.Context, eng Runner, inputs []string, maxIterations, concurrency int) ([]BatchResult, error) {
	results := make([]BatchResult, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, input := range inputs {
		results[i].Input = input
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := &results[i]
			res.RunID, res.Err = eng.StartRun(gctx, input, maxIterations)
			if res.Err == nil {
				res.Run, res.Err = eng.Resume(gctx, res.RunID)
			}
			if res.Err != nil {
				res.Error = res.Err.Error()
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}
