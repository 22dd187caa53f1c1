package routing

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

var (
	// ErrInvalidRouteType matches every *RouteTypeError.
	ErrInvalidRouteType = errors.New("route is not a processor")

	// ErrNoRouteMatched is returned when no router accepts an event.
	ErrNoRouteMatched = errors.New("no route matched")

	// ErrNoRoutes is returned when a router has no routes to dispatch to.
	ErrNoRoutes = errors.New("router has no routes")

	// ErrRetriesExhausted matches every *RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RouteTypeError reports a route value that does not implement
// processor.Processor.
type RouteTypeError struct {
	// Index is the position of the value in the offending list, or -1.
	Index int
	Value any
}

func (e *RouteTypeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("route of type %T is not a processor", e.Value)
	}
	return fmt.Sprintf("route %d of type %T is not a processor", e.Index, e.Value)
}

// Is reports ErrInvalidRouteType as a match.
func (e *RouteTypeError) Is(target error) bool { return target == ErrInvalidRouteType }

// RoutingError reports a failed dispatch.
type RoutingError struct {
	Router string
	Event  *message.Event
	Err    error
}

func (e *RoutingError) Error() string {
	id := "<nil>"
	if e.Event != nil {
		id = e.Event.ID()
	}
	return fmt.Sprintf("router %s: event %s: %v", e.Router, id, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// RetriesExhaustedError is returned by UntilSuccessful once every attempt
// failed. Err is the last failure.
type RetriesExhaustedError struct {
	Event    *message.Event
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	msg := "<none>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("until-successful retries exhausted after %d attempts. Last exception message was: %s",
		e.Attempts, msg)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// Is reports ErrRetriesExhausted as a match.
func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }
