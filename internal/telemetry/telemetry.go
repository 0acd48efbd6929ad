// Package telemetry defines the small Logger/Metrics/Tracer facade used
// throughout the core so components stay agnostic of the concrete
// observability backend. The production implementation wraps
// goa.design/clue/log for logging and OpenTelemetry for metrics/tracing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is structured, context-scoped logging used by every component that
// can fail non-fatally (persistence failures, tool failures, scheduler
// handler failures, registry creation failures — spec.md §7).
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Telemetry bundles the three facades so components can take a single
// dependency.
type Telemetry struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}
