package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// ModelInvoker is the only suspension point of a run.
// An error means the model could not produce an answer; the calling node
// turns it into run state, it never aborts the engine.
type ModelInvoker interface {
	Invoke(ctx context.Context, messages []domain.Message) (string, error)
}

// InvokerFunc adapts a function to ModelInvoker.
type InvokerFunc func(ctx context.Context, messages []domain.Message) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, messages []domain.Message) (string, error) {
	return f(ctx, messages)
}
