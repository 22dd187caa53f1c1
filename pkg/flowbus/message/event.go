// Package message provides the event envelope that travels through flows.
//
// An Event wraps a payload together with its correlation data and a set of
// properties. Events are immutable: every With* method returns a new event
// and leaves the receiver untouched. One event may be handed to several
// routes at once.
//
// Correlation data drives aggregation:
//   - CorrelationID groups related events (empty means "not correlated")
//   - GroupSize is the number of events expected in the group (-1 if unknown)
//   - Sequence is the 1-based position of the event inside its group
package message

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// UnknownGroupSize marks an event whose correlation group size is not known.
const UnknownGroupSize = -1

// Event is an immutable message envelope.
type Event struct {
	id            string
	payload       any
	correlationID string
	groupSize     int
	sequence      int
	replyTo       string
	flow          string
	timestamp     time.Time
	properties    map[string]any
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.id = id
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.correlationID = id
	}
}

// WithGroupSize sets the expected size of the correlation group.
func WithGroupSize(n int) Option {
	return func(e *Event) {
		e.groupSize = n
	}
}

// WithSequence sets the position of the event inside its correlation group.
func WithSequence(n int) Option {
	return func(e *Event) {
		e.sequence = n
	}
}

// WithReplyTo sets the reply destination.
func WithReplyTo(dest string) Option {
	return func(e *Event) {
		e.replyTo = dest
	}
}

// WithFlow sets the name of the flow that owns the event.
func WithFlow(name string) Option {
	return func(e *Event) {
		e.flow = name
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.timestamp = t
	}
}

// WithProperties sets the initial properties. The map is copied.
func WithProperties(props map[string]any) Option {
	return func(e *Event) {
		e.properties = maps.Clone(props)
	}
}

// New creates an event carrying payload.
func New(payload any, opts ...Option) *Event {
	e := &Event{
		id:        uuid.New().String(),
		payload:   payload,
		groupSize: UnknownGroupSize,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.properties == nil {
		e.properties = make(map[string]any)
	}
	return e
}

// ID returns the unique event identifier.
func (e *Event) ID() string { return e.id }

// Payload returns the event payload.
func (e *Event) Payload() any { return e.payload }

// CorrelationID returns the correlation ID, or "" when the event is not correlated.
func (e *Event) CorrelationID() string { return e.correlationID }

// GroupSize returns the expected correlation group size.
func (e *Event) GroupSize() int { return e.groupSize }

// Sequence returns the position inside the correlation group (0 if unset).
func (e *Event) Sequence() int { return e.sequence }

// ReplyTo returns the reply destination.
func (e *Event) ReplyTo() string { return e.replyTo }

// Flow returns the name of the owning flow.
func (e *Event) Flow() string { return e.flow }

// Timestamp returns when the event was created.
func (e *Event) Timestamp() time.Time { return e.timestamp }

// Property returns a single property.
func (e *Event) Property(key string) (any, bool) {
	v, ok := e.properties[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (e *Event) Properties() map[string]any {
	return maps.Clone(e.properties)
}

func (e *Event) clone() *Event {
	c := *e
	c.properties = maps.Clone(e.properties)
	return &c
}

// WithPayload returns a copy of the event carrying a new payload.
// The copy keeps the ID so the result can be traced back to its input.
func (e *Event) WithPayload(payload any) *Event {
	c := e.clone()
	c.payload = payload
	return c
}

// WithProperty returns a copy of the event with one property set.
func (e *Event) WithProperty(key string, value any) *Event {
	c := e.clone()
	c.properties[key] = value
	return c
}

// WithCorrelation returns a copy of the event with new correlation data.
func (e *Event) WithCorrelation(correlationID string, groupSize, sequence int) *Event {
	c := e.clone()
	c.correlationID = correlationID
	c.groupSize = groupSize
	c.sequence = sequence
	return c
}

// WithFlow returns a copy of the event owned by another flow.
func (e *Event) WithFlow(name string) *Event {
	c := e.clone()
	c.flow = name
	return c
}

// Copy returns a copy of the event with a fresh ID. Routers use it when the
// same input fans out to several routes.
func (e *Event) Copy() *Event {
	c := e.clone()
	c.id = uuid.New().String()
	return c
}

// Env exposes the event to expression evaluation.
func (e *Event) Env() map[string]any {
	return map[string]any{
		"id":            e.id,
		"payload":       e.payload,
		"correlationId": e.correlationID,
		"groupSize":     e.groupSize,
		"sequence":      e.sequence,
		"replyTo":       e.replyTo,
		"flow":          e.flow,
		"properties":    e.properties,
	}
}

// record is the serialized form of an Event.
type record struct {
	ID            string         `json:"id"`
	Payload       any            `json:"payload"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	GroupSize     int            `json:"group_size"`
	Sequence      int            `json:"sequence,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	Flow          string         `json:"flow,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		ID:            e.id,
		Payload:       e.payload,
		CorrelationID: e.correlationID,
		GroupSize:     e.groupSize,
		Sequence:      e.sequence,
		ReplyTo:       e.replyTo,
		Flow:          e.flow,
		Timestamp:     e.timestamp,
		Properties:    e.properties,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
// Payloads decode into their generic JSON form (map[string]any, float64, ...).
func (e *Event) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*e = Event{
		id:            r.ID,
		payload:       r.Payload,
		correlationID: r.CorrelationID,
		groupSize:     r.GroupSize,
		sequence:      r.Sequence,
		replyTo:       r.ReplyTo,
		flow:          r.Flow,
		timestamp:     r.Timestamp,
		properties:    r.Properties,
	}
	if e.properties == nil {
		e.properties = make(map[string]any)
	}
	return nil
}
