// Package deadletter keeps events whose processing failed for inspection and
// redelivery.
//
// Letters wait in the queue until their retry time. A Redeliverer pushes
// ready letters back through a processor; letters that keep failing are
// parked after MaxRetries and stay parked until recovered or deleted.
package deadletter

import (
	"errors"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

var (
	// ErrQueueFull is returned when the queue holds MaxSize letters.
	ErrQueueFull = errors.New("dead letter queue is full")

	// ErrLetterNotFound is returned for an unknown event id.
	ErrLetterNotFound = errors.New("dead letter not found")
)

// Letter is a failed event with its failure and retry history.
type Letter struct {
	Event  *message.Event `json:"event"`
	Error  string         `json:"error"`
	Source string         `json:"source,omitempty"`

	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`

	// ParkReason is set once the letter stops being retried.
	ParkReason string    `json:"park_reason,omitempty"`
	ParkedAt   time.Time `json:"parked_at,omitempty"`
}

// NewLetter records evt failing with err in source.
func NewLetter(evt *message.Event, err error, source string) *Letter {
	now := time.Now()
	l := &Letter{
		Event:         evt,
		Source:        source,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	if err != nil {
		l.Error = err.Error()
	}
	return l
}

// EventID returns the id of the failed event.
func (l *Letter) EventID() string {
	if l.Event == nil {
		return ""
	}
	return l.Event.ID()
}
