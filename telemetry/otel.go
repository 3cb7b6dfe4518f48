package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// otelMetrics adapts the engine's Metrics interface onto an OTEL Meter.
// Counters and histograms are created lazily and cached by name since OTEL
// instruments are expected to be long-lived.
type otelMetrics struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTELMetrics returns a Metrics implementation backed by the global OTEL
// meter provider under the given instrumentation name. Use this when the
// host application has already wired an OTEL MeterProvider; callers that
// have not configured OTEL get its default no-op provider automatically.
func NewOTELMetrics(instrumentationName string) Metrics {
	return &otelMetrics{
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *otelMetrics) IncCounter(name string, delta int64, labels map[string]string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), delta, metric.WithAttributes(attrsFromLabels(labels)...))
}

func (m *otelMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrsFromLabels(labels)...))
}

func attrsFromLabels(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// otelTracer adapts the engine's Tracer interface onto an OTEL Tracer.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOTELTracer returns a Tracer implementation backed by the global OTEL
// tracer provider under the given instrumentation name.
func NewOTELTracer(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}
