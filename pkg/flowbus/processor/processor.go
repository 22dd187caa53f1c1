// Package processor defines the unit of work that flows, routers and
// aggregators are composed of.
//
// A Processor receives an event and returns the event to pass downstream.
// Returning a nil event with a nil error means the event was consumed and
// nothing continues past this point.
//
// # Composition
//
//	p := processor.Chain(
//	    processor.Func(validate),
//	    processor.Func(enrich),
//	)
//	p = processor.Wrap(p, processor.Recovery(), processor.Logging(logger, "orders"))
package processor

import (
	"context"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// Processor handles a single event.
type Processor interface {
	Process(ctx context.Context, evt *message.Event) (*message.Event, error)
}

// Func adapts a function to the Processor interface.
type Func func(ctx context.Context, evt *message.Event) (*message.Event, error)

// Process calls f.
func (f Func) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return f(ctx, evt)
}

// Named is implemented by processors that report a name for logs and spans.
type Named interface {
	Name() string
}

// NameOf returns the processor's name, or "anonymous".
func NameOf(p Processor) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "anonymous"
}

// chain runs processors in sequence.
type chain struct {
	processors []Processor
}

// Chain returns a processor that feeds the output of each processor into the
// next. The chain stops early when a processor fails or consumes the event.
func Chain(processors ...Processor) Processor {
	ps := make([]Processor, 0, len(processors))
	for _, p := range processors {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &chain{processors: ps}
}

func (c *chain) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	current := evt
	for _, p := range c.processors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := p.Process(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// Identity returns its input unchanged.
var Identity Processor = Func(func(_ context.Context, evt *message.Event) (*message.Event, error) {
	return evt, nil
})

// ExceptionHandler receives events whose processing failed.
type ExceptionHandler interface {
	HandleException(ctx context.Context, evt *message.Event, err error)
}

// ExceptionHandlerFunc adapts a function to the ExceptionHandler interface.
type ExceptionHandlerFunc func(ctx context.Context, evt *message.Event, err error)

// HandleException calls f.
func (f ExceptionHandlerFunc) HandleException(ctx context.Context, evt *message.Event, err error) {
	f(ctx, evt, err)
}

// DiscardExceptions drops every failure.
var DiscardExceptions ExceptionHandler = ExceptionHandlerFunc(func(context.Context, *message.Event, error) {})
