package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// RunStore defines the interface for persisting runs.
// This allows for durable execution: a run can be stepped from one process and resumed in another.
type RunStore interface {
	// Save persists the run under run.ID.
	Save(ctx context.Context, run *domain.Run) error

	// Load retrieves a run by id.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Load(ctx context.Context, runID string) (*domain.Run, error)

	// Delete removes a run. Deleting an unknown run is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the ids of all stored runs.
	List(ctx context.Context) ([]string, error)
}
