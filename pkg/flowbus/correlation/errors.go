package correlation

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

var (
	// ErrNoCorrelationID is returned for events without a correlation id.
	ErrNoCorrelationID = errors.New("event has no correlation id")

	// ErrCorrelationTimeout matches every *CorrelationTimeoutError.
	ErrCorrelationTimeout = errors.New("correlation timed out")

	// ErrResponseTimeout matches every *ResponseTimeoutError.
	ErrResponseTimeout = errors.New("response timed out")

	// ErrNilCallback is returned when a correlator is built without a callback.
	ErrNilCallback = errors.New("correlation callback is nil")
)

// AggregationError reports a group whose aggregation failed. The group is
// discarded as a whole; Events holds every event it contained.
type AggregationError struct {
	GroupID string
	Events  []*message.Event
	Err     error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate group %s (%d events): %v", e.GroupID, len(e.Events), e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// CorrelationTimeoutError reports a group that expired before completing.
type CorrelationTimeoutError struct {
	GroupID  string
	Expected int
	Events   []*message.Event
}

func (e *CorrelationTimeoutError) Error() string {
	return fmt.Sprintf("correlation timed out for group %s: received %d of %d events",
		e.GroupID, len(e.Events), e.Expected)
}

// Is reports ErrCorrelationTimeout as a match.
func (e *CorrelationTimeoutError) Is(target error) bool { return target == ErrCorrelationTimeout }

// ResponseTimeoutError reports an AwaitResponse that gave up.
type ResponseTimeoutError struct {
	GroupID string
	Timeout time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("response timed out after %s waiting for group %s", e.Timeout, e.GroupID)
}

// Is reports ErrResponseTimeout as a match.
func (e *ResponseTimeoutError) Is(target error) bool { return target == ErrResponseTimeout }
