// Package notification fans bus notifications out to listeners.
//
// Components fire notifications for routing anomalies (a correlation group
// timing out, an event arriving for a group that was already aggregated, an
// async reply that never came) and for lifecycle transitions of the
// container and its components. Listeners subscribe per action.
//
//	srv := notification.NewServer(notification.Config{})
//	sub := srv.Subscribe([]notification.Action{notification.CorrelationTimeout},
//	    notification.ListenerFunc(func(ctx context.Context, n notification.Notification) {
//	        log.Printf("group %s timed out", n.Resource)
//	    }))
//	defer sub.Unsubscribe()
package notification

import (
	"context"
	"time"
)

// Action identifies the kind of a notification.
type Action string

// Routing actions.
const (
	CorrelationTimeout     Action = "correlation.timeout"
	MissedAggregationGroup Action = "correlation.missed-group"
	AsyncReplyTimeout      Action = "correlation.async-reply-timeout"
)

// Lifecycle actions.
const (
	ContextStarting  Action = "context.starting"
	ContextStarted   Action = "context.started"
	ContextStopping  Action = "context.stopping"
	ContextStopped   Action = "context.stopped"
	ComponentStarted Action = "component.started"
	ComponentStopped Action = "component.stopped"
)

// Notification is a single fired notification.
type Notification struct {
	Action Action

	// Resource identifies what the notification is about, such as a
	// correlation id or a component name.
	Resource string

	// Source names the component that fired the notification.
	Source string

	// Payload carries optional detail, such as the late event.
	Payload any

	Timestamp time.Time
}

// New creates a notification stamped with the current time.
func New(action Action, source, resource string, payload any) Notification {
	return Notification{
		Action:    action,
		Resource:  resource,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Listener receives notifications.
type Listener interface {
	OnNotification(ctx context.Context, n Notification)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, n Notification)

// OnNotification calls f.
func (f ListenerFunc) OnNotification(ctx context.Context, n Notification) {
	f(ctx, n)
}

// Firer is what components need to emit notifications.
type Firer interface {
	Fire(ctx context.Context, n Notification)
}

// Discard is a Firer that drops every notification.
var Discard Firer = discard{}

type discard struct{}

func (discard) Fire(context.Context, Notification) {}
