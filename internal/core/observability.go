package core

import (
	"context"
	"time"
)

// Logger receives structured service events. Implementations must be safe
// for concurrent use. The zero-dependency default is noopLogger.
type Logger interface {
	Info(ctx context.Context, event string, fields map[string]any)
	Error(ctx context.Context, event string, err error, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(context.Context, string, map[string]any)         {}
func (noopLogger) Error(context.Context, string, error, map[string]any) {}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// MetricsRecorder aggregates per-operation outcomes. Observe is called
// once per service operation with its success flag and wall duration.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer creates spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span started by a Tracer.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
