package message

import (
	"errors"
	"fmt"
)

// ErrNilEvent is returned when a processor receives a nil event.
var ErrNilEvent = errors.New("nil event")

// MessagingError ties a processing failure to the event that caused it.
type MessagingError struct {
	Event   *Event // The event that failed
	Message string // What was being attempted
	Err     error  // Underlying error
}

// Error implements error interface.
func (e *MessagingError) Error() string {
	id := "<nil>"
	if e.Event != nil {
		id = e.Event.ID()
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", id, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", id, e.Message)
}

// Unwrap returns the underlying error.
func (e *MessagingError) Unwrap() error {
	return e.Err
}

// NewMessagingError wraps err with the event it occurred on.
func NewMessagingError(evt *Event, msg string, err error) *MessagingError {
	return &MessagingError{Event: evt, Message: msg, Err: err}
}
