package routing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
	"github.com/randalmurphal/flowbus/pkg/flowbus/routing"
)

// flakyRoute fails until it has been called succeedOn times.
type flakyRoute struct {
	mu        sync.Mutex
	calls     int
	succeedOn int
	attempts  []any
}

func (f *flakyRoute) Process(_ context.Context, evt *message.Event) (*message.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	a, _ := evt.Property(routing.AttemptProperty)
	f.attempts = append(f.attempts, a)
	if f.succeedOn > 0 && f.calls >= f.succeedOn {
		return evt.WithPayload("delivered"), nil
	}
	return nil, errors.New("expected failure")
}

func (f *flakyRoute) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewUntilSuccessful_Validation(t *testing.T) {
	_, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{})
	assert.Error(t, err)

	_, err = routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{
		Route:             processor.Identity,
		FailureExpression: "payload ==",
	})
	assert.Error(t, err)
}

func TestUntilSuccessful_SyncEventuallySucceeds(t *testing.T) {
	route := &flakyRoute{succeedOn: 3}
	u, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{
		Route:         route,
		MaxRetries:    4,
		RetryInterval: time.Millisecond,
		Synchronous:   true,
	})
	require.NoError(t, err)

	out, err := u.Process(context.Background(), message.New("order"))
	require.NoError(t, err)
	assert.Equal(t, "delivered", out.Payload())
	assert.Equal(t, []any{1, 2, 3}, route.attempts)
	assert.Empty(t, u.InFlight())
}

func TestUntilSuccessful_SyncExhausted(t *testing.T) {
	route := &flakyRoute{}
	u, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{
		Route:         route,
		MaxRetries:    4,
		RetryInterval: time.Millisecond,
		Synchronous:   true,
	})
	require.NoError(t, err)

	_, err = u.Process(context.Background(), message.New("order"))
	require.Error(t, err)
	assert.ErrorIs(t, err, routing.ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "until-successful retries exhausted")
	assert.Contains(t, err.Error(), "Last exception message was: expected failure")

	var rex *routing.RetriesExhaustedError
	require.ErrorAs(t, err, &rex)
	assert.Equal(t, 5, rex.Attempts)
	assert.Equal(t, 5, route.count())
}

func TestUntilSuccessful_FailureExpressionToDeadLetter(t *testing.T) {
	route := processor.Func(func(_ context.Context, evt *message.Event) (*message.Event, error) {
		return evt.WithProperty("status", "rejected"), nil
	})
	dlq := &capture{}
	handled := make(chan error, 1)

	u, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{
		Route:             route,
		MaxRetries:        2,
		RetryInterval:     time.Millisecond,
		FailureExpression: `properties.status == "rejected"`,
		DeadLetter:        dlq,
		ExceptionHandler: processor.ExceptionHandlerFunc(func(_ context.Context, _ *message.Event, err error) {
			handled <- err
		}),
	})
	require.NoError(t, err)

	evt := message.New("order")
	out, err := u.Process(context.Background(), evt)
	require.NoError(t, err)
	assert.Nil(t, out, "asynchronous processing returns immediately")

	require.NoError(t, u.Wait(context.Background()))
	got := dlq.received()
	require.Len(t, got, 1)
	assert.Equal(t, evt.ID(), got[0].ID())
	msg, _ := got[0].Property(routing.ExceptionProperty)
	assert.Contains(t, msg, "until-successful retries exhausted")
	assert.Len(t, handled, 0, "exception handler is bypassed when a dead letter processor is set")
	assert.Empty(t, u.InFlight())
}

func TestUntilSuccessful_ExhaustedToExceptionHandler(t *testing.T) {
	handled := make(chan error, 1)
	u, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{
		Route:         &flakyRoute{},
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
		ExceptionHandler: processor.ExceptionHandlerFunc(func(_ context.Context, _ *message.Event, err error) {
			handled <- err
		}),
	})
	require.NoError(t, err)

	_, err = u.Process(context.Background(), message.New("x"))
	require.NoError(t, err)

	select {
	case err := <-handled:
		var rex *routing.RetriesExhaustedError
		require.ErrorAs(t, err, &rex)
		assert.EqualError(t, rex.Err, "expected failure")
	case <-time.After(2 * time.Second):
		t.Fatal("exception handler was not called")
	}
}

func TestUntilSuccessful_AckExpression(t *testing.T) {
	u, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{
		Route:         processor.Identity,
		AckExpression: `"ack:" + payload`,
		Synchronous:   true,
	})
	require.NoError(t, err)

	out, err := u.Process(context.Background(), message.New("42"))
	require.NoError(t, err)
	assert.Equal(t, "ack:42", out.Payload())
}

func TestUntilSuccessful_RejectsDuplicateInFlight(t *testing.T) {
	release := make(chan struct{})
	route := processor.Func(func(_ context.Context, evt *message.Event) (*message.Event, error) {
		<-release
		return evt, nil
	})
	u, err := routing.NewUntilSuccessful(routing.UntilSuccessfulConfig{Route: route})
	require.NoError(t, err)

	evt := message.New("x")
	_, err = u.Process(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, []string{evt.ID()}, u.InFlight())

	_, err = u.Process(context.Background(), evt)
	assert.Error(t, err)

	close(release)
	require.NoError(t, u.Wait(context.Background()))
	assert.Empty(t, u.InFlight())
}
