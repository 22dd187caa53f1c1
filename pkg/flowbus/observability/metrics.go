package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records flowbus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records a router dispatching an event.
	RecordDispatch(ctx context.Context, router string, duration time.Duration, err error)

	// RecordAggregation records a completed event group.
	RecordAggregation(ctx context.Context, groupSize int, duration time.Duration)

	// RecordGroupDiscarded records an event group dropped without a result.
	RecordGroupDiscarded(ctx context.Context, reason string)

	// RecordTransaction records a finished transaction.
	RecordTransaction(ctx context.Context, outcome string, resources int)

	// RecordQueueDepth records the number of items waiting on a queue.
	RecordQueueDepth(ctx context.Context, queue string, depth int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches     metric.Int64Counter
	dispatchErrors metric.Int64Counter
	dispatchMs     metric.Float64Histogram
	aggregations   metric.Int64Counter
	groupSize      metric.Int64Histogram
	discards       metric.Int64Counter
	transactions   metric.Int64Counter
	queueDepth     metric.Int64Gauge
}

// newOtelMetrics creates a new OTel metrics instance from the global provider.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowbus")

	dispatches, err := meter.Int64Counter("flowbus.route.dispatches",
		metric.WithDescription("Number of events dispatched by routers"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("flowbus.route.errors",
		metric.WithDescription("Number of failed dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchMs, err := meter.Float64Histogram("flowbus.route.latency_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	aggregations, err := meter.Int64Counter("flowbus.correlation.aggregations",
		metric.WithDescription("Number of event groups aggregated"),
	)
	if err != nil {
		return nil, err
	}

	groupSize, err := meter.Int64Histogram("flowbus.correlation.group_size",
		metric.WithDescription("Events per aggregated group"),
	)
	if err != nil {
		return nil, err
	}

	discards, err := meter.Int64Counter("flowbus.correlation.discards",
		metric.WithDescription("Number of event groups discarded"),
	)
	if err != nil {
		return nil, err
	}

	transactions, err := meter.Int64Counter("flowbus.transaction.completions",
		metric.WithDescription("Number of finished transactions"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge("flowbus.queue.depth",
		metric.WithDescription("Items waiting on a queue"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:     dispatches,
		dispatchErrors: dispatchErrors,
		dispatchMs:     dispatchMs,
		aggregations:   aggregations,
		groupSize:      groupSize,
		discards:       discards,
		transactions:   transactions,
		queueDepth:     queueDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records a dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, router string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("router", router))

	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchMs.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}

// RecordAggregation records a completed group.
func (m *otelMetrics) RecordAggregation(ctx context.Context, groupSize int, _ time.Duration) {
	m.aggregations.Add(ctx, 1)
	m.groupSize.Record(ctx, int64(groupSize))
}

// RecordGroupDiscarded records a discarded group.
func (m *otelMetrics) RecordGroupDiscarded(ctx context.Context, reason string) {
	m.discards.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransaction records a finished transaction.
func (m *otelMetrics) RecordTransaction(ctx context.Context, outcome string, resources int) {
	m.transactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("resources", resources),
	))
}

// RecordQueueDepth records a queue depth sample.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, queue string, depth int64) {
	m.queueDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("queue", queue)))
}
