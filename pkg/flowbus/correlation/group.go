package correlation

import (
	"sync"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// EventGroup holds the events received so far for one correlation id.
type EventGroup struct {
	id           string
	expectedSize int
	created      time.Time

	mu     sync.RWMutex
	events []*message.Event

	// turn serializes evaluation of the group by the correlator.
	turn    sync.Mutex
	removed bool
}

// NewEventGroup creates an empty group. expectedSize may be
// message.UnknownGroupSize.
func NewEventGroup(id string, expectedSize int) *EventGroup {
	return &EventGroup{
		id:           id,
		expectedSize: expectedSize,
	}
}

// ID returns the correlation id of the group.
func (g *EventGroup) ID() string { return g.id }

// ExpectedSize returns the number of events the group waits for.
func (g *EventGroup) ExpectedSize() int { return g.expectedSize }

// Created returns when the group received its first event.
func (g *EventGroup) Created() time.Time { return g.created }

// Size returns the number of events received.
func (g *EventGroup) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.events)
}

// Events returns the received events in arrival order.
func (g *EventGroup) Events() []*message.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*message.Event(nil), g.events...)
}

// ToCollection returns the group as a collection event.
func (g *EventGroup) ToCollection() *message.Event {
	return message.NewCollection(g.id, g.Events())
}

func (g *EventGroup) add(evt *message.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, evt)
}
