package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("flowbus")

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("flowbus")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("tracer provider shutdown: %v", err)
		}
	})
	return exporter
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartRouteSpan(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	_, span := sm.StartRouteSpan(context.Background(), "multicast", "ev-1")
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "flowbus.route.multicast", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	v, ok := attrValue(spans[0].Attributes, "event.id")
	require.True(t, ok)
	assert.Equal(t, "ev-1", v.AsString())
}

func TestStartAggregateSpan_Error(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	_, span := sm.StartAggregateSpan(context.Background(), "g1", 3)
	sm.EndSpanWithError(span, errors.New("aggregation failed"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "flowbus.aggregate", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "aggregation failed", spans[0].Status.Description)
	v, ok := attrValue(spans[0].Attributes, "group.size")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
}

func TestTransactionSpanWithEvents(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, span := sm.StartTransactionSpan(context.Background(), "tx-1")
	sm.AddSpanEvent(ctx, "prepared", attribute.Int("resources", 2))
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "flowbus.transaction", spans[0].Name)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "prepared", spans[0].Events[0].Name)
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartRouteSpan(ctx, "r", "e")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())
	assert.NotPanics(t, func() {
		sm.EndSpanWithError(span, errors.New("x"))
		sm.AddSpanEvent(ctx, "x")
		EndSpanWithError(nil, nil)
		AddSpanEvent(ctx, "no span")
	})
}
