package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/pergola/pkg/domain"
)

// Tracing opens a span when a node is entered and ends it when the node is
// left. Model calls become span events; the run end closes a run span.
type Tracing struct {
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]trace.Span
	nodes map[string]trace.Span
}

// NewTracing creates tracing hooks backed by tracer.
func NewTracing(tracer trace.Tracer) *Tracing {
	return &Tracing{
		tracer: tracer,
		runs:   make(map[string]trace.Span),
		nodes:  make(map[string]trace.Span),
	}
}

func (t *Tracing) runSpan(ctx context.Context, runID string) trace.Span {
	if span, ok := t.runs[runID]; ok {
		return span
	}
	_, span := t.tracer.Start(ctx, "pergola.run", trace.WithAttributes(attribute.String("run.id", runID)))
	t.runs[runID] = span
	return span
}

// Hooks returns lifecycle hooks that record spans.
func (t *Tracing) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			t.mu.Lock()
			defer t.mu.Unlock()

			if stale, ok := t.nodes[e.RunID]; ok {
				stale.SetStatus(codes.Error, "step abandoned")
				stale.End()
			}
			parent := trace.ContextWithSpan(ctx, t.runSpan(ctx, e.RunID))
			_, span := t.tracer.Start(parent, e.NodeID, trace.WithAttributes(
				attribute.String("run.id", e.RunID),
				attribute.String("node.kind", e.NodeKind),
				attribute.Int("step", e.Step),
			))
			t.nodes[e.RunID] = span
		},
		OnModelCall: func(_ context.Context, e *domain.ModelEvent) {
			t.withNode(e.RunID, func(span trace.Span) {
				span.AddEvent("model.call", trace.WithAttributes(attribute.Int("prompt.chars", len(e.Prompt))))
			})
		},
		OnModelReturn: func(_ context.Context, e *domain.ModelEvent) {
			t.withNode(e.RunID, func(span trace.Span) {
				span.AddEvent("model.return", trace.WithAttributes(
					attribute.Bool("error", e.IsError),
					attribute.Int64("duration_ms", e.Duration.Milliseconds()),
				))
			})
		},
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			t.mu.Lock()
			span, ok := t.nodes[e.RunID]
			delete(t.nodes, e.RunID)
			t.mu.Unlock()
			if !ok {
				return
			}
			span.SetAttributes(attribute.StringSlice("patched", e.Fields))
			span.End()
		},
		OnRouted: func(_ context.Context, e *domain.RouteEvent) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if span, ok := t.runs[e.RunID]; ok {
				span.AddEvent("routed", trace.WithAttributes(
					attribute.String("node", e.NodeID),
					attribute.String("branch", e.Branch),
					attribute.String("target", e.Target),
				))
			}
		},
		OnRunDone: func(_ context.Context, e *domain.RunEvent) {
			t.mu.Lock()
			span, ok := t.runs[e.RunID]
			delete(t.runs, e.RunID)
			t.mu.Unlock()
			if !ok {
				return
			}
			span.SetAttributes(attribute.Int("steps", e.Steps), attribute.String("difficulty", e.Difficulty))
			if e.Error != "" {
				span.SetStatus(codes.Error, e.Error)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		},
	}
}

func (t *Tracing) withNode(runID string, fn func(trace.Span)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if span, ok := t.nodes[runID]; ok {
		fn(span)
	}
}
