// Package throttle rate-limits model invocations.
package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Invoker waits on a token bucket before each call to the wrapped invoker.
type Invoker struct {
	next    ports.ModelInvoker
	limiter *rate.Limiter
}

// Wrap limits next to rps calls per second with the given burst.
// A non-positive rps returns next unchanged.
func Wrap(next ports.ModelInvoker, rps float64, burst int) ports.ModelInvoker {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Invoker{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (i *Invoker) Invoke(ctx context.Context, messages []domain.Message) (string, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return i.next.Invoke(ctx, messages)
}
