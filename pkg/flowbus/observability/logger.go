// Package observability provides structured logging, metrics, and tracing
// for flowbus routing, aggregation, and transactions.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds flow and correlation context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "orders", "order-42")
//	enriched.Info("routing") // includes flow, correlation_id
func EnrichLogger(logger *slog.Logger, flow, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("flow", flow),
		slog.String("correlation_id", correlationID),
	)
}

// LogRouteDispatched logs a successful dispatch to a route.
func LogRouteDispatched(logger *slog.Logger, router, eventID string, routes int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event routed",
		slog.String("router", router),
		slog.String("event_id", eventID),
		slog.Int("routes", routes),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRouteError logs a failed dispatch.
func LogRouteError(logger *slog.Logger, router, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("routing failed",
		slog.String("router", router),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogGroupAggregated logs the completion of an event group.
func LogGroupAggregated(logger *slog.Logger, groupID string, size int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event group aggregated",
		slog.String("correlation_id", groupID),
		slog.Int("group_size", size),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogGroupDiscarded logs an event group dropped without a result.
func LogGroupDiscarded(logger *slog.Logger, groupID string, size int, reason string, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("correlation_id", groupID),
		slog.Int("group_size", size),
		slog.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Warn("event group discarded", attrs...)
}

// LogTransactionComplete logs the outcome of a transaction.
func LogTransactionComplete(logger *slog.Logger, txID, outcome string, resources int) {
	if logger == nil {
		return
	}
	logger.Debug("transaction completed",
		slog.String("tx_id", txID),
		slog.String("outcome", outcome),
		slog.Int("resources", resources),
	)
}

// LogTransactionError logs a transaction that could not complete cleanly.
func LogTransactionError(logger *slog.Logger, txID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("transaction failed",
		slog.String("tx_id", txID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a lifecycle transition of a named component.
func LogLifecycle(logger *slog.Logger, component, phase string) {
	if logger == nil {
		return
	}
	logger.Info("lifecycle",
		slog.String("component", component),
		slog.String("phase", phase),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
