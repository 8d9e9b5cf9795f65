/*
Package observability turns engine lifecycle hooks into metrics and traces.

Metrics exports Prometheus counters and histograms; Tracing opens one
OpenTelemetry span per node execution. Both return domain.LifecycleHooks
that can be merged and passed to the engine:

	hooks := observability.NewMetrics(prometheus.DefaultRegisterer).Hooks().
		Merge(observability.NewTracing(otel.Tracer("pergola")).Hooks())
*/
package observability
