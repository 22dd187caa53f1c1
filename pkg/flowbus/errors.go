package flowbus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the container.
var (
	// ErrNilComponent indicates Register was called with a nil component.
	ErrNilComponent = errors.New("component cannot be nil")

	// ErrDuplicateComponent indicates a component name is already registered.
	ErrDuplicateComponent = errors.New("component already registered")

	// ErrFlowNotFound indicates no flow is registered under a name.
	ErrFlowNotFound = errors.New("flow not found")
)

// Sentinel errors for flows.
var (
	// ErrFlowStopped indicates an event was sent to a flow that is not started.
	ErrFlowStopped = errors.New("flow is stopped")

	// ErrNilProcessor indicates a flow was created without processors.
	ErrNilProcessor = errors.New("flow needs at least one processor")
)

// LifecycleError wraps a failure to start or stop a component.
type LifecycleError struct {
	// Component is the name of the component that failed.
	Component string
	// Phase is "start" or "stop".
	Phase string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Component, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// FlowError wraps a processing failure with the flow and event it happened in.
type FlowError struct {
	Flow    string
	EventID string
	Err     error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	return fmt.Sprintf("flow %s: event %s: %v", e.Flow, e.EventID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FlowError) Unwrap() error {
	return e.Err
}
