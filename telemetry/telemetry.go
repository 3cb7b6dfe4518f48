// Package telemetry defines the logging, metrics, and tracing seams. The
// runtime driver and the event bus accept a Logger explicitly (no
// package-level singletons). Metrics and Tracer come with no-op and
// OTEL-backed implementations, but no engine component records through
// them.
package telemetry

import "context"

type (
	// Logger emits structured log lines. Implementations must be safe for
	// concurrent use.
	Logger interface {
		// Debug logs a low-severity diagnostic message with key-value fields.
		Debug(msg string, fields ...Field)
		// Info logs a normal informational message with key-value fields.
		Info(msg string, fields ...Field)
		// Warn logs a recoverable problem with key-value fields.
		Warn(msg string, fields ...Field)
		// Error logs a failure with key-value fields.
		Error(msg string, fields ...Field)
	}

	// Field is a single structured log key-value pair.
	Field struct {
		Key   string
		Value any
	}

	// Metrics records counters and histograms under caller-chosen names.
	// No engine component emits metrics through it.
	Metrics interface {
		// IncCounter increments a named counter by delta, tagged with labels.
		IncCounter(name string, delta int64, labels map[string]string)
		// ObserveHistogram records a single observation for a named histogram.
		ObserveHistogram(name string, value float64, labels map[string]string)
	}

	// Tracer starts spans for distributed tracing. No engine component
	// starts spans through it.
	Tracer interface {
		// StartSpan begins a span named name and returns a context carrying it
		// plus a function that must be called to end the span.
		StartSpan(ctx context.Context, name string) (context.Context, func())
	}
)

// F constructs a Field, shorthand for struct literal use at call sites.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

type (
	noopLogger  struct{}
	noopMetrics struct{}
	noopTracer  struct{}
)

// NoopLogger discards all log lines. It is the default Logger when none is
// configured.
func NoopLogger() Logger { return noopLogger{} }

// NoopMetrics discards all metric observations. It is the default Metrics
// when none is configured.
func NoopMetrics() Metrics { return noopMetrics{} }

// NoopTracer produces spans that do nothing. It is the default Tracer when
// none is configured.
func NoopTracer() Tracer { return noopTracer{} }

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

func (noopMetrics) IncCounter(string, int64, map[string]string)        {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}

func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}
