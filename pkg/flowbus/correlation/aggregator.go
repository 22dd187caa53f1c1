package correlation

import (
	"context"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// Aggregator is a processor that correlates the events passing through it.
// It returns nil for events that do not complete a group, which stops a
// processor chain until the aggregate is ready.
type Aggregator struct {
	correlator *Correlator
}

// NewAggregator creates an aggregator backed by a new correlator.
func NewAggregator(callback Callback, opts ...Option) (*Aggregator, error) {
	c, err := NewCorrelator(callback, opts...)
	if err != nil {
		return nil, err
	}
	return &Aggregator{correlator: c}, nil
}

// Name returns the name of the underlying correlator.
func (a *Aggregator) Name() string { return a.correlator.Name() }

// Correlator returns the underlying correlator.
func (a *Aggregator) Correlator() *Correlator { return a.correlator }

// Process adds evt to its group.
func (a *Aggregator) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return a.correlator.Process(ctx, evt)
}

// Start starts the expiry monitor.
func (a *Aggregator) Start(ctx context.Context) error { return a.correlator.Start(ctx) }

// Stop stops the expiry monitor.
func (a *Aggregator) Stop(ctx context.Context) error { return a.correlator.Stop(ctx) }
