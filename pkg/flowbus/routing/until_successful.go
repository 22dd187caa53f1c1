package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/expr"
	fberrors "github.com/randalmurphal/flowbus/pkg/flowbus/errors"
	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
	"github.com/randalmurphal/flowbus/pkg/flowbus/store"
)

const (
	// AttemptProperty holds the 1-based attempt number on events sent to the route.
	AttemptProperty = "untilSuccessful.attempt"

	// ExceptionProperty holds the failure message on events sent to the dead letter processor.
	ExceptionProperty = "exception"
)

// UntilSuccessfulConfig configures an UntilSuccessful processor.
type UntilSuccessfulConfig struct {
	// Route is the processor retried until it succeeds. Required.
	Route processor.Processor

	// MaxRetries is the number of retries after the first attempt.
	// Default: 5
	MaxRetries int

	// RetryInterval between attempts.
	// Default: 60 seconds
	RetryInterval time.Duration

	// FailureExpression marks a successful result as a failure when it
	// evaluates to true against the result event.
	FailureExpression string

	// AckExpression replaces the payload of a successful result with the
	// value of the expression.
	AckExpression string

	// DeadLetter receives events whose retries are exhausted. When nil the
	// ExceptionHandler receives them instead.
	DeadLetter processor.Processor

	// ExceptionHandler receives exhausted events when there is no DeadLetter.
	ExceptionHandler processor.ExceptionHandler

	// Store keeps events while they are in flight. Default: a new memory store.
	Store *store.ObjectStore[string, *message.Event]

	// Synchronous makes Process block and return the result or the
	// *RetriesExhaustedError. Otherwise Process returns immediately with a
	// nil event and retries in the background.
	Synchronous bool

	Logger *slog.Logger
}

// UntilSuccessful retries a route until it succeeds.
type UntilSuccessful struct {
	cfg     UntilSuccessfulConfig
	failure *expr.Predicate
	ack     *expr.Value

	wg sync.WaitGroup
}

// NewUntilSuccessful validates cfg and creates the processor.
func NewUntilSuccessful(cfg UntilSuccessfulConfig) (*UntilSuccessful, error) {
	if cfg.Route == nil {
		return nil, errors.New("until-successful: route is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 60 * time.Second
	}
	if cfg.Store == nil {
		cfg.Store = store.New[string, *message.Event]()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	u := &UntilSuccessful{cfg: cfg}
	if cfg.FailureExpression != "" {
		p, err := expr.Compile(cfg.FailureExpression)
		if err != nil {
			return nil, fmt.Errorf("until-successful: failure expression: %w", err)
		}
		u.failure = p
	}
	if cfg.AckExpression != "" {
		v, err := expr.CompileValue(cfg.AckExpression)
		if err != nil {
			return nil, fmt.Errorf("until-successful: ack expression: %w", err)
		}
		u.ack = v
	}
	return u, nil
}

// Name implements processor.Named.
func (u *UntilSuccessful) Name() string { return "until-successful" }

// InFlight returns the ids of events still being retried.
func (u *UntilSuccessful) InFlight() []string {
	return u.cfg.Store.Keys()
}

// Process hands evt to the route, retrying on failure.
func (u *UntilSuccessful) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	if err := u.cfg.Store.Store(evt.ID(), evt); err != nil {
		return nil, fmt.Errorf("until-successful: %w", err)
	}

	if u.cfg.Synchronous {
		defer func() { _, _ = u.cfg.Store.Remove(evt.ID()) }()
		return u.run(ctx, evt)
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer func() { _, _ = u.cfg.Store.Remove(evt.ID()) }()

		bg := context.WithoutCancel(ctx)
		if _, err := u.run(bg, evt); err != nil {
			u.exhausted(bg, evt, err)
		}
	}()
	return nil, nil
}

// Wait blocks until background retries finish or ctx is done.
func (u *UntilSuccessful) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *UntilSuccessful) run(ctx context.Context, evt *message.Event) (*message.Event, error) {
	attempt := 0
	policy := fberrors.FixedRetry(u.cfg.MaxRetries+1, u.cfg.RetryInterval)
	result := fberrors.WithRetryContext(ctx, policy, func(ctx context.Context) (*message.Event, error) {
		attempt++
		return u.attempt(ctx, evt.WithProperty(AttemptProperty, attempt))
	})
	if result.Err == nil {
		return result.Value, nil
	}

	last := result.Err
	var ce *fberrors.CategorizedError
	if errors.As(last, &ce) && ce.Err != nil {
		last = ce.Err
	}
	return nil, &RetriesExhaustedError{Event: evt, Attempts: result.Attempts, Err: last}
}

func (u *UntilSuccessful) attempt(ctx context.Context, evt *message.Event) (*message.Event, error) {
	out, err := u.cfg.Route.Process(ctx, evt)
	if err != nil {
		u.cfg.Logger.Debug("until-successful attempt failed",
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if u.failure != nil {
		subject := out
		if subject == nil {
			subject = evt
		}
		failed, ferr := u.failure.Match(subject.Env())
		if ferr != nil {
			return nil, ferr
		}
		if failed {
			return nil, fmt.Errorf("failure expression matched: %s", u.failure)
		}
	}

	if u.ack != nil && out != nil {
		v, aerr := u.ack.Eval(out.Env())
		if aerr != nil {
			return nil, fberrors.Permanent(aerr, "ack expression")
		}
		out = out.WithPayload(v)
	}
	return out, nil
}

func (u *UntilSuccessful) exhausted(ctx context.Context, evt *message.Event, err error) {
	u.cfg.Logger.Warn("until-successful retries exhausted",
		slog.String("event_id", evt.ID()),
		slog.String("error", err.Error()),
	)
	if u.cfg.DeadLetter != nil {
		if _, dlqErr := u.cfg.DeadLetter.Process(ctx, evt.WithProperty(ExceptionProperty, err.Error())); dlqErr != nil {
			u.cfg.Logger.Error("dead letter processor failed",
				slog.String("event_id", evt.ID()),
				slog.String("error", dlqErr.Error()),
			)
		}
		return
	}
	if u.cfg.ExceptionHandler != nil {
		u.cfg.ExceptionHandler.HandleException(ctx, evt, err)
	}
}
