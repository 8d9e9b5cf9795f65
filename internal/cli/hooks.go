package cli

import (
	"context"
	"log/slog"
	"slices"

	"github.com/aretw0/pergola/pkg/domain"
)

// DebugHooks logs every node transition and model call at debug level.
func DebugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node enter", "run_id", e.RunID, "node_id", e.NodeID, "kind", e.NodeKind, "step", e.Step)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node leave", "run_id", e.RunID, "node_id", e.NodeID, "fields", e.Fields, "duration", e.Duration)
		},
		OnModelReturn: func(ctx context.Context, e *domain.ModelEvent) {
			level := slog.LevelDebug
			if e.IsError {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "model call", "run_id", e.RunID, "node_id", e.NodeID, "duration", e.Duration, "failed", e.IsError)
		},
		OnRouted: func(ctx context.Context, e *domain.RouteEvent) {
			logger.DebugContext(ctx, "routed", "run_id", e.RunID, "node_id", e.NodeID, "branch", e.Branch, "target", e.Target)
		},
		OnRunDone: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run finished", "run_id", e.RunID, "steps", e.Steps, "difficulty", e.Difficulty, "error", e.Error)
		},
	}
}

// mergeSorted unions two name lists into one sorted list without duplicates.
func mergeSorted(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
