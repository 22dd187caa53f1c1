package correlation

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/flowbus/pkg/flowbus/expr"
	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// Callback decides when a group is complete and how it is aggregated.
type Callback interface {
	// CreateEventGroup creates the group for the first event of groupID.
	CreateEventGroup(evt *message.Event, groupID string) *EventGroup

	// ShouldAggregate reports whether the group is complete.
	ShouldAggregate(g *EventGroup) bool

	// AggregateEvents builds the result event for a group.
	AggregateEvents(ctx context.Context, g *EventGroup) (*message.Event, error)
}

// CollectionCallback completes a group once it holds the group size carried
// by its first event and aggregates it into a message.Collection.
type CollectionCallback struct{}

// NewCollectionCallback returns a CollectionCallback.
func NewCollectionCallback() *CollectionCallback { return &CollectionCallback{} }

// CreateEventGroup sizes the group from evt.GroupSize.
func (CollectionCallback) CreateEventGroup(evt *message.Event, groupID string) *EventGroup {
	return NewEventGroup(groupID, evt.GroupSize())
}

// ShouldAggregate reports whether every expected event has arrived. Groups of
// unknown size never complete on their own.
func (CollectionCallback) ShouldAggregate(g *EventGroup) bool {
	expected := g.ExpectedSize()
	if expected <= 0 {
		return false
	}
	return g.Size() >= expected
}

// AggregateEvents returns the group as a collection ordered by sequence.
func (CollectionCallback) AggregateEvents(_ context.Context, g *EventGroup) (*message.Event, error) {
	if g.Size() == 0 {
		return nil, errors.New("empty event group")
	}
	return g.ToCollection(), nil
}

// CountCallback completes a group after exactly N events.
type CountCallback struct {
	CollectionCallback
	N int
}

// NewCountCallback returns a callback completing groups of n events.
func NewCountCallback(n int) *CountCallback {
	return &CountCallback{N: n}
}

// CreateEventGroup sizes the group to N.
func (c *CountCallback) CreateEventGroup(_ *message.Event, groupID string) *EventGroup {
	return NewEventGroup(groupID, c.N)
}

// ShouldAggregate reports whether N events have arrived.
func (c *CountCallback) ShouldAggregate(g *EventGroup) bool {
	return c.N > 0 && g.Size() >= c.N
}

// Selector picks one event out of a group.
type Selector interface {
	Select(ctx context.Context, events []*message.Event) (*message.Event, error)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(ctx context.Context, events []*message.Event) (*message.Event, error)

// Select calls f.
func (f SelectorFunc) Select(ctx context.Context, events []*message.Event) (*message.Event, error) {
	return f(ctx, events)
}

// LowestValue selects the event for which src evaluates to the smallest number.
func LowestValue(src string) (Selector, error) {
	return valueSelector(src, func(candidate, best float64) bool { return candidate < best })
}

// HighestValue selects the event for which src evaluates to the largest number.
func HighestValue(src string) (Selector, error) {
	return valueSelector(src, func(candidate, best float64) bool { return candidate > best })
}

func valueSelector(src string, better func(candidate, best float64) bool) (Selector, error) {
	value, err := expr.CompileValue(src)
	if err != nil {
		return nil, err
	}
	return SelectorFunc(func(_ context.Context, events []*message.Event) (*message.Event, error) {
		var (
			selected *message.Event
			best     float64
		)
		for _, evt := range events {
			v, err := value.Float(evt.Env())
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", evt.ID(), err)
			}
			if selected == nil || better(v, best) {
				selected, best = evt, v
			}
		}
		if selected == nil {
			return nil, errors.New("empty event group")
		}
		return selected, nil
	}), nil
}

// SelectionCallback completes groups like CollectionCallback and aggregates
// them by selecting a single event.
type SelectionCallback struct {
	CollectionCallback
	Selector Selector
}

// NewSelectionCallback returns a callback aggregating with s.
func NewSelectionCallback(s Selector) *SelectionCallback {
	return &SelectionCallback{Selector: s}
}

// AggregateEvents returns the selected event.
func (c *SelectionCallback) AggregateEvents(ctx context.Context, g *EventGroup) (*message.Event, error) {
	if c.Selector == nil {
		return nil, errors.New("selection callback has no selector")
	}
	return c.Selector.Select(ctx, g.Events())
}
