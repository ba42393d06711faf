package service

import "context"

// Tracer instruments engine operations with spans. It is intentionally small
// so it can be backed by Prometheus-only metrics (the connector's default),
// an OpenTelemetry exporter, or a no-op in tests.
type Tracer interface {
	// StartSpan begins a span named name with the given attributes and
	// returns a context carrying it plus a completion func to call with the
	// operation's error (nil on success).
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

// NoopTracer discards all spans.
var NoopTracer Tracer = noopTracer{}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Base is embedded by concrete engine/service types to share the tracer and
// observation-hook wiring every service needs without reintroducing a
// dynamic-dispatch service hierarchy.
type Base struct {
	Tracer Tracer
	Hooks  ObservationHooks
}

// NewBase constructs a Base, defaulting to NoopTracer/NoopObservationHooks.
func NewBase(tracer Tracer, hooks ObservationHooks) Base {
	if tracer == nil {
		tracer = NoopTracer
	}
	return Base{Tracer: tracer, Hooks: hooks}
}

// Observe wraps fn with both the tracer span and the observation hooks.
func (b Base) Observe(ctx context.Context, name string, meta map[string]string, fn func(context.Context) error) error {
	spanCtx, endSpan := b.Tracer.StartSpan(ctx, name, meta)
	endObs := StartObservation(spanCtx, b.Hooks, meta)
	err := fn(spanCtx)
	endSpan(err)
	endObs(err)
	return err
}
