package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// GraphLoader resolves graph definitions by name.
// This allows the graph source (embedded templates, files, Loam) to be decoupled.
type GraphLoader interface {
	// Load returns the definition registered under name.
	// Returns domain.ErrGraphNotFound if there is none.
	Load(ctx context.Context, name string) (domain.GraphDefinition, error)

	// List returns the names of every available graph, sorted.
	List(ctx context.Context) ([]string, error)
}
