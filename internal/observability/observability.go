// Package observability records the outcome and latency of import-file
// operations. Recorders and tracers are optional collaborators of the app
// service; nil values fall back to no-op implementations.
package observability

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per completed operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

// NopRecorder discards observations.
type NopRecorder struct{}

func (NopRecorder) Observe(context.Context, string, bool, time.Duration) {}

// NopTracer returns spans that do nothing.
type NopTracer struct{}

func (NopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) End(error) {}

// Status renders the success flag used by every recorder.
func Status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Multi fans observations out to every non-nil recorder.
func Multi(recorders ...MetricsRecorder) MetricsRecorder {
	var out multiRecorder
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return NopRecorder{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multiRecorder []MetricsRecorder

func (m multiRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}
