package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// Middleware wraps a processor with additional behavior.
type Middleware func(Processor) Processor

// Wrap applies middleware to p. The first middleware is the outermost.
func Wrap(p Processor, middleware ...Middleware) Processor {
	for i := len(middleware) - 1; i >= 0; i-- {
		p = middleware[i](p)
	}
	return p
}

// Recovery converts a panic in the wrapped processor into a *message.MessagingError.
func Recovery() Middleware {
	return func(next Processor) Processor {
		return Func(func(ctx context.Context, evt *message.Event) (result *message.Event, err error) {
			defer func() {
				if r := recover(); r != nil {
					result = nil
					err = message.NewMessagingError(evt, fmt.Sprintf("processor panic: %v", r), nil)
				}
			}()
			return next.Process(ctx, evt)
		})
	}
}

// Logging logs every invocation of the wrapped processor.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Processor) Processor {
		return Func(func(ctx context.Context, evt *message.Event) (*message.Event, error) {
			done := observability.TimedOperation()
			result, err := next.Process(ctx, evt)
			if err != nil {
				observability.LogRouteError(logger, name, evt.ID(), err)
				return result, err
			}
			observability.LogRouteDispatched(logger, name, evt.ID(), 1, done())
			return result, nil
		})
	}
}

// Metrics records dispatch counts and latency for the wrapped processor.
func Metrics(recorder observability.MetricsRecorder, name string) Middleware {
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}
	return func(next Processor) Processor {
		return Func(func(ctx context.Context, evt *message.Event) (*message.Event, error) {
			start := time.Now()
			result, err := next.Process(ctx, evt)
			recorder.RecordDispatch(ctx, name, time.Since(start), err)
			return result, err
		})
	}
}
