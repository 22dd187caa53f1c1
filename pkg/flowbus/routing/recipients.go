package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

// DefaultRecipientProperty is the event property read by StaticRecipientList.
const DefaultRecipientProperty = "recipients"

// RecipientLookup resolves a recipient name to a processor.
// *store.ObjectStore[string, processor.Processor] satisfies it.
type RecipientLookup interface {
	Retrieve(name string) (processor.Processor, error)
}

// WithRecipients sets the recipients used when an event names none.
func WithRecipients(names ...string) Option {
	return func(s *settings) { s.recipients = append([]string(nil), names...) }
}

// WithRecipientProperty sets the event property holding recipient names.
func WithRecipientProperty(key string) Option {
	return func(s *settings) { s.recipientProperty = key }
}

// WithRecipientLookup sets how recipient names are resolved.
func WithRecipientLookup(l RecipientLookup) Option {
	return func(s *settings) { s.lookup = l }
}

// StaticRecipientList multicasts each event to the recipients it names.
//
// Recipient names are read from an event property ([]string, []any of
// strings, or a comma-separated string); events without the property go to
// the configured recipients. Names are resolved through a RecipientLookup.
type StaticRecipientList struct {
	OutboundRouter
}

// NewStaticRecipientList creates a recipient list router.
func NewStaticRecipientList(opts ...Option) *StaticRecipientList {
	r := &StaticRecipientList{}
	r.init("recipient-list", opts)
	return r
}

// Recipients returns the recipient names for evt.
func (r *StaticRecipientList) Recipients(evt *message.Event) []string {
	if v, ok := evt.Property(r.recipientProperty); ok {
		if names := recipientNames(v); len(names) > 0 {
			return names
		}
	}
	return append([]string(nil), r.recipients...)
}

// Route resolves the recipients of evt and multicasts to them.
func (r *StaticRecipientList) Route(ctx context.Context, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	names := r.Recipients(evt)
	return r.observe(ctx, evt, len(names), func(ctx context.Context) (*message.Event, error) {
		if r.lookup == nil {
			return nil, fmt.Errorf("recipient list %s: no recipient lookup configured", r.name)
		}
		routes := make([]processor.Processor, 0, len(names))
		for _, name := range names {
			p, err := r.lookup.Retrieve(name)
			if err != nil {
				return nil, fmt.Errorf("recipient %q: %w", name, err)
			}
			routes = append(routes, p)
		}
		return r.multicast(ctx, routes, evt)
	})
}

// Process routes matched events and passes unmatched events through.
func (r *StaticRecipientList) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	return processIfMatch(ctx, r, evt)
}

func recipientNames(v any) []string {
	var raw []string
	switch val := v.(type) {
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(val, ",")
	}
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
