package message

import "sort"

// Collection is the payload of an event built from a correlation group.
type Collection struct {
	GroupID string
	Events  []*Event
}

// NewCollection creates a collection event for a group. The result carries
// the group's correlation ID so it can be correlated further downstream.
func NewCollection(groupID string, events []*Event) *Event {
	ordered := append([]*Event(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence() < ordered[j].Sequence()
	})

	props := make(map[string]any)
	for _, evt := range ordered {
		for k, v := range evt.properties {
			if _, exists := props[k]; !exists {
				props[k] = v
			}
		}
	}

	return New(Collection{GroupID: groupID, Events: ordered},
		WithCorrelationID(groupID),
		WithProperties(props),
	)
}

// Payloads returns the payloads of the collected events in order.
func (c Collection) Payloads() []any {
	out := make([]any, len(c.Events))
	for i, evt := range c.Events {
		out[i] = evt.Payload()
	}
	return out
}

// Len returns the number of collected events.
func (c Collection) Len() int {
	return len(c.Events)
}
