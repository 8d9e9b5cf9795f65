package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/pergola/pkg/domain"
)

// Metrics holds the Prometheus collectors fed by engine events.
type Metrics struct {
	NodeVisits    *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	ModelCalls    *prometheus.CounterVec
	ModelDuration prometheus.Histogram
	Routes        *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	RunSteps      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pergola",
			Name:      "node_visits_total",
			Help:      "Node executions by node kind.",
		}, []string{"kind"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pergola",
			Name:      "node_duration_seconds",
			Help:      "Node execution time by node kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		ModelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pergola",
			Name:      "model_calls_total",
			Help:      "Model invocations by outcome.",
		}, []string{"outcome"}),
		ModelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pergola",
			Name:      "model_duration_seconds",
			Help:      "Model invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pergola",
			Name:      "routes_total",
			Help:      "Branches selected by conditional nodes.",
		}, []string{"node", "branch"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pergola",
			Name:      "runs_total",
			Help:      "Finished runs by outcome and difficulty.",
		}, []string{"outcome", "difficulty"}),
		RunSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pergola",
			Name:      "run_steps",
			Help:      "Steps taken by finished runs.",
			Buckets:   []float64{5, 10, 20, 40, 80, 160, 320, 500},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodeVisits, m.NodeDuration, m.ModelCalls, m.ModelDuration, m.Routes, m.Runs, m.RunSteps)
	}
	return m
}

// Hooks returns lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.NodeKind).Inc()
			m.NodeDuration.WithLabelValues(e.NodeKind).Observe(e.Duration.Seconds())
		},
		OnModelReturn: func(_ context.Context, e *domain.ModelEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.ModelCalls.WithLabelValues(outcome).Inc()
			m.ModelDuration.Observe(e.Duration.Seconds())
		},
		OnRouted: func(_ context.Context, e *domain.RouteEvent) {
			m.Routes.WithLabelValues(e.NodeID, e.Branch).Inc()
		},
		OnRunDone: func(_ context.Context, e *domain.RunEvent) {
			outcome := "answered"
			if e.Error != "" {
				outcome = "error"
			}
			m.Runs.WithLabelValues(outcome, e.Difficulty).Inc()
			m.RunSteps.Observe(float64(e.Steps))
		},
	}
}
