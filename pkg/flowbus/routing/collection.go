package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

// RouterCollection evaluates routers in order and dispatches to the first
// one that matches, or to every match when MatchAll is set.
type RouterCollection struct {
	mu       sync.RWMutex
	routers  []Router
	matchAll bool
	catchAll processor.Processor
	logger   *slog.Logger
}

// CollectionOption configures a RouterCollection.
type CollectionOption func(*RouterCollection)

// MatchAll dispatches to every matching router instead of the first.
func MatchAll() CollectionOption {
	return func(c *RouterCollection) { c.matchAll = true }
}

// WithCatchAll sets the processor for events no router matches.
func WithCatchAll(p processor.Processor) CollectionOption {
	return func(c *RouterCollection) { c.catchAll = p }
}

// WithCollectionLogger sets the logger. Default: slog.Default().
func WithCollectionLogger(logger *slog.Logger) CollectionOption {
	return func(c *RouterCollection) { c.logger = logger }
}

// NewRouterCollection creates a collection of routers.
func NewRouterCollection(routers []Router, opts ...CollectionOption) *RouterCollection {
	c := &RouterCollection{routers: append([]Router(nil), routers...)}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Name implements processor.Named.
func (c *RouterCollection) Name() string { return "router-collection" }

// AddRouter appends a router.
func (c *RouterCollection) AddRouter(r Router) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routers = append(c.routers, r)
}

// RemoveRouter removes the router with the given name.
func (c *RouterCollection) RemoveRouter(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.routers {
		if r.Name() == name {
			c.routers = append(c.routers[:i:i], c.routers[i+1:]...)
			return true
		}
	}
	return false
}

// Routers returns a copy of the routers.
func (c *RouterCollection) Routers() []Router {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Router(nil), c.routers...)
}

// SetCatchAll replaces the catch-all processor.
func (c *RouterCollection) SetCatchAll(p processor.Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catchAll = p
}

// Process implements processor.Processor.
func (c *RouterCollection) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return c.Route(ctx, evt)
}

// Route dispatches evt. When nothing matches, the catch-all handles the
// event; without one the result is ErrNoRouteMatched.
func (c *RouterCollection) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}

	c.mu.RLock()
	routers := append([]Router(nil), c.routers...)
	matchAll := c.matchAll
	catchAll := c.catchAll
	c.mu.RUnlock()

	matched := 0
	var results []*message.Event
	for _, r := range routers {
		ok, err := r.IsMatch(ctx, evt)
		if err != nil {
			return nil, &RoutingError{Router: r.Name(), Event: evt, Err: err}
		}
		if !ok {
			continue
		}
		matched++
		out, err := r.Route(ctx, evt)
		if err != nil {
			return nil, err
		}
		if !matchAll {
			return out, nil
		}
		if out != nil {
			results = append(results, out)
		}
	}

	if matched == 0 {
		if catchAll != nil {
			c.logger.Debug("no router matched, using catch-all",
				slog.String("event_id", evt.ID()))
			return catchAll.Process(ctx, evt)
		}
		return nil, fmt.Errorf("%w: event %s", ErrNoRouteMatched, evt.ID())
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		groupID := evt.CorrelationID()
		if groupID == "" {
			groupID = evt.ID()
		}
		return message.NewCollection(groupID, results), nil
	}
}
