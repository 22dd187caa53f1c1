package routing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

// FilteringRouter sends matched events to its first route.
type FilteringRouter struct {
	OutboundRouter
}

// NewFilteringRouter creates a filtering router.
func NewFilteringRouter(opts ...Option) *FilteringRouter {
	r := &FilteringRouter{}
	r.init("filtering", opts)
	return r
}

// Route sends evt to the first route.
func (r *FilteringRouter) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	routes := r.Routes()
	return r.observe(ctx, evt, 1, func(ctx context.Context) (*message.Event, error) {
		if len(routes) == 0 {
			return nil, ErrNoRoutes
		}
		return r.dispatch(ctx, routes[0], evt)
	})
}

// Process routes matched events and passes unmatched events through.
func (r *FilteringRouter) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return processIfMatch(ctx, r, evt)
}

// MulticastRouter sends a copy of each event to every route.
//
// The copies share a correlation id (the event's own, or its id when it has
// none), carry the number of routes as group size and their 1-based route
// index as sequence, so a downstream aggregator can rebuild the group. The
// non-nil results are returned as a message.Collection.
type MulticastRouter struct {
	OutboundRouter
}

// NewMulticastRouter creates a multicasting router.
func NewMulticastRouter(opts ...Option) *MulticastRouter {
	r := &MulticastRouter{}
	r.init("multicast", opts)
	return r
}

// Route multicasts evt.
func (r *MulticastRouter) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	routes := r.Routes()
	return r.observe(ctx, evt, len(routes), func(ctx context.Context) (*message.Event, error) {
		return r.multicast(ctx, routes, evt)
	})
}

// Process routes matched events and passes unmatched events through.
func (r *MulticastRouter) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return processIfMatch(ctx, r, evt)
}

func (r *OutboundRouter) multicast(ctx context.Context, routes []processor.Processor, evt *message.Event) (*message.Event, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	correlationID := evt.CorrelationID()
	if correlationID == "" {
		correlationID = evt.ID()
	}
	size := len(routes)
	results := make([]*message.Event, size)

	send := func(ctx context.Context, i int) error {
		part := evt.Copy().WithCorrelation(correlationID, size, i+1)
		out, err := r.dispatch(ctx, routes[i], part)
		if err != nil {
			return fmt.Errorf("route %d: %w", i+1, err)
		}
		if out != nil {
			results[i] = out.WithCorrelation(correlationID, size, i+1)
		}
		return nil
	}

	if r.parallel {
		g, gctx := errgroup.WithContext(ctx)
		if r.parallelLimit > 0 {
			g.SetLimit(r.parallelLimit)
		}
		for i := range routes {
			g.Go(func() error { return send(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range routes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := send(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	collected := make([]*message.Event, 0, size)
	for _, out := range results {
		if out != nil {
			collected = append(collected, out)
		}
	}
	if len(collected) == 0 {
		return nil, nil
	}
	return message.NewCollection(correlationID, collected).WithFlow(evt.Flow()), nil
}

// ChainingRouter feeds the result of each route into the next and returns
// the result of the last one.
type ChainingRouter struct {
	OutboundRouter
}

// NewChainingRouter creates a chaining router.
func NewChainingRouter(opts ...Option) *ChainingRouter {
	r := &ChainingRouter{}
	r.init("chaining", opts)
	return r
}

// Route runs the chain. A route that consumes the event ends the chain with
// a nil result.
func (r *ChainingRouter) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	routes := r.Routes()
	return r.observe(ctx, evt, len(routes), func(ctx context.Context) (*message.Event, error) {
		if len(routes) == 0 {
			return nil, ErrNoRoutes
		}
		current := evt
		for i, route := range routes {
			out, err := r.dispatch(ctx, route, current)
			if err != nil {
				return nil, fmt.Errorf("route %d: %w", i+1, err)
			}
			if out == nil {
				return nil, nil
			}
			current = out
		}
		return current, nil
	})
}

// Process routes matched events and passes unmatched events through.
func (r *ChainingRouter) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return processIfMatch(ctx, r, evt)
}

// ExceptionBasedRouter tries each route in order and returns the first
// successful result.
type ExceptionBasedRouter struct {
	OutboundRouter
}

// NewExceptionBasedRouter creates an exception-based router.
func NewExceptionBasedRouter(opts ...Option) *ExceptionBasedRouter {
	r := &ExceptionBasedRouter{}
	r.init("exception-based", opts)
	return r
}

// Route tries routes until one succeeds. When all fail the error joins every
// route failure.
func (r *ExceptionBasedRouter) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	routes := r.Routes()
	return r.observe(ctx, evt, len(routes), func(ctx context.Context) (*message.Event, error) {
		if len(routes) == 0 {
			return nil, ErrNoRoutes
		}
		var errs []error
		for i, route := range routes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := r.dispatch(ctx, route, evt)
			if err == nil {
				return out, nil
			}
			errs = append(errs, fmt.Errorf("route %d: %w", i+1, err))
			r.logger.Debug("route failed, trying next",
				"router", r.name,
				"route", i+1,
				"error", err.Error(),
			)
		}
		return nil, errors.Join(errs...)
	})
}

// Process routes matched events and passes unmatched events through.
func (r *ExceptionBasedRouter) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return processIfMatch(ctx, r, evt)
}

// RoundRobinRouter sends each event to the next route in turn.
type RoundRobinRouter struct {
	OutboundRouter
	next atomic.Uint64
}

// NewRoundRobinRouter creates a round-robin router.
func NewRoundRobinRouter(opts ...Option) *RoundRobinRouter {
	r := &RoundRobinRouter{}
	r.init("round-robin", opts)
	return r
}

// Route sends evt to the next route.
func (r *RoundRobinRouter) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	routes := r.Routes()
	return r.observe(ctx, evt, 1, func(ctx context.Context) (*message.Event, error) {
		if len(routes) == 0 {
			return nil, ErrNoRoutes
		}
		i := (r.next.Add(1) - 1) % uint64(len(routes))
		return r.dispatch(ctx, routes[i], evt)
	})
}

// Process routes matched events and passes unmatched events through.
func (r *RoundRobinRouter) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return processIfMatch(ctx, r, evt)
}

// processIfMatch is the Process behavior shared by every router kind when
// used directly as a processor in a chain.
func processIfMatch(ctx context.Context, r Router, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	ok, err := r.IsMatch(ctx, evt)
	if err != nil {
		return nil, &RoutingError{Router: r.Name(), Event: evt, Err: err}
	}
	if !ok {
		return evt, nil
	}
	return r.Route(ctx, evt)
}
