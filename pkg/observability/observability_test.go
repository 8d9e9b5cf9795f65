package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aretw0/pergola/pkg/domain"
)

func base(t domain.EventType) domain.EventBase {
	return domain.EventBase{Timestamp: time.Now(), Type: t, RunID: "run-1"}
}

// replay feeds one two-node run through the hooks.
func replay(h domain.LifecycleHooks, runErr string) {
	ctx := context.Background()

	h.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: base(domain.EventNodeEnter), NodeID: "classify", NodeKind: "classify", Step: 1})
	h.OnModelCall(ctx, &domain.ModelEvent{EventBase: base(domain.EventModelCall), NodeID: "classify", Prompt: "hi"})
	h.OnModelReturn(ctx, &domain.ModelEvent{EventBase: base(domain.EventModelReturn), NodeID: "classify", Output: "easy", Duration: 20 * time.Millisecond})
	h.OnNodeLeave(ctx, &domain.NodeEvent{EventBase: base(domain.EventNodeLeave), NodeID: "classify", NodeKind: "classify", Step: 1, Fields: []string{"difficulty"}})
	h.OnRouted(ctx, &domain.RouteEvent{EventBase: base(domain.EventRouted), NodeID: "classify", Branch: "easy", Target: "guard_dir"})

	h.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: base(domain.EventNodeEnter), NodeID: "end", NodeKind: "end", Step: 2})
	h.OnNodeLeave(ctx, &domain.NodeEvent{EventBase: base(domain.EventNodeLeave), NodeID: "end", NodeKind: "end", Step: 2})
	h.OnRunDone(ctx, &domain.RunEvent{EventBase: base(domain.EventRunDone), Steps: 2, Difficulty: "easy", Error: runErr})
}

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := m.Hooks()
	h.OnNodeEnter = func(context.Context, *domain.NodeEvent) {}
	h.OnModelCall = func(context.Context, *domain.ModelEvent) {}

	replay(h, "")
	replay(h, "model failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeVisits.WithLabelValues("classify")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModelCalls.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Routes.WithLabelValues("classify", "easy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("answered", "easy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("error", "easy")))

	count, err := testutil.GatherAndCount(reg, "pergola_run_steps")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestTracing_Hooks(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := NewTracing(tp.Tracer("test"))
	replay(tr.Hooks(), "")

	spans := rec.Ended()
	require.Len(t, spans, 3)

	classify, end, run := spans[0], spans[1], spans[2]
	assert.Equal(t, "classify", classify.Name())
	assert.Equal(t, "end", end.Name())
	assert.Equal(t, "pergola.run", run.Name())

	assert.Equal(t, run.SpanContext().SpanID(), classify.Parent().SpanID())
	assert.Equal(t, run.SpanContext().TraceID(), end.SpanContext().TraceID())
	require.Len(t, classify.Events(), 2)
	assert.Equal(t, "model.call", classify.Events()[0].Name)
	require.Len(t, run.Events(), 1)
	assert.Equal(t, "routed", run.Events()[0].Name)
	assert.Equal(t, codes.Ok, run.Status().Code)

	assert.Empty(t, tr.runs)
	assert.Empty(t, tr.nodes)
}

func TestTracing_AbandonedStep(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := NewTracing(tp.Tracer("test"))
	h := tr.Hooks()
	ctx := context.Background()

	h.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: base(domain.EventNodeEnter), NodeID: "answer", NodeKind: "answer"})
	h.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: base(domain.EventNodeEnter), NodeID: "answer", NodeKind: "answer"})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
