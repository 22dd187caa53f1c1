package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// ErrUnauthorised matches every *UnauthorisedError.
var ErrUnauthorised = errors.New("unauthorised")

// UnauthorisedError reports an event rejected by an AuthenticationFilter.
type UnauthorisedError struct {
	Event *message.Event
	Err   error
}

func (e *UnauthorisedError) Error() string {
	id := "<nil>"
	if e.Event != nil {
		id = e.Event.ID()
	}
	if e.Err == nil {
		return fmt.Sprintf("event %s: unauthorised", id)
	}
	return fmt.Sprintf("event %s: unauthorised: %v", id, e.Err)
}

func (e *UnauthorisedError) Unwrap() error { return e.Err }

// Is reports ErrUnauthorised as a match.
func (e *UnauthorisedError) Is(target error) bool { return target == ErrUnauthorised }

// Authenticator verifies the credentials carried by an event.
type Authenticator interface {
	Authenticate(ctx context.Context, evt *message.Event) error
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, evt *message.Event) error

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, evt *message.Event) error {
	return f(ctx, evt)
}

// AuthenticationFilter passes events downstream only after they authenticate.
type AuthenticationFilter struct {
	auth Authenticator
	next Processor
}

// NewAuthenticationFilter returns a filter guarding next.
func NewAuthenticationFilter(auth Authenticator, next Processor) *AuthenticationFilter {
	return &AuthenticationFilter{auth: auth, next: next}
}

// Name implements Named.
func (f *AuthenticationFilter) Name() string { return "authentication-filter" }

// Process authenticates evt. Any failure, including a panic in the
// authenticator, is returned as *UnauthorisedError.
func (f *AuthenticationFilter) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	if err := f.authenticate(ctx, evt); err != nil {
		return nil, err
	}
	if f.next == nil {
		return evt, nil
	}
	return f.next.Process(ctx, evt)
}

func (f *AuthenticationFilter) authenticate(ctx context.Context, evt *message.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnauthorisedError{Event: evt, Err: fmt.Errorf("authenticator panic: %v", r)}
		}
	}()
	if f.auth == nil {
		return &UnauthorisedError{Event: evt, Err: errors.New("no authenticator configured")}
	}
	if authErr := f.auth.Authenticate(ctx, evt); authErr != nil {
		var ue *UnauthorisedError
		if errors.As(authErr, &ue) {
			return ue
		}
		return &UnauthorisedError{Event: evt, Err: authErr}
	}
	return nil
}
