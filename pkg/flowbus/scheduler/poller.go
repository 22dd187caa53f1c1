// Package scheduler triggers flows on a cron schedule.
//
// A Poller calls its PollFunc on its own goroutines, independent from the
// flow that processes the polled events. In synchronous mode each poll
// blocks until the target has processed every event; in asynchronous mode
// events are dispatched and the poll returns. A poll that is still running
// when the next one is due causes the next one to be skipped.
//
//	p, err := scheduler.NewPoller("@every 5s", readInbox, flow,
//	    scheduler.WithSynchronous(true),
//	)
//	if err := p.Start(ctx); err != nil { ... }
//	defer p.Stop(ctx)
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

// Sentinel errors.
var (
	ErrPollInProgress = errors.New("poll already in progress")
	ErrNilPollFunc    = errors.New("poll func cannot be nil")
	ErrNilTarget      = errors.New("target processor cannot be nil")
	ErrStopped        = errors.New("poller is stopped")
)

// PollFunc fetches the events of one poll. It may return none.
type PollFunc func(ctx context.Context) ([]*message.Event, error)

// parser accepts standard 5-field specs, 6-field specs with seconds, and
// descriptors such as "@every 5s".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Option configures a Poller.
type Option func(*Poller)

// WithName sets the poller name used in logs and lifecycle reporting.
func WithName(name string) Option {
	return func(p *Poller) { p.name = name }
}

// WithSynchronous blocks each poll until the target has processed the
// polled events. The default follows the target's Synchronous method when
// it has one, such as a flow, and is true otherwise.
func WithSynchronous(sync bool) Option {
	return func(p *Poller) { p.synchronous = sync }
}

// strategist is implemented by targets that know whether they process
// events on the calling goroutine.
type strategist interface {
	Synchronous() bool
}

// WithExceptionHandler receives poll and processing failures.
func WithExceptionHandler(h processor.ExceptionHandler) Option {
	return func(p *Poller) { p.handler = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// Poller runs a PollFunc on a cron schedule and feeds the results to a
// target processor.
type Poller struct {
	name        string
	spec        string
	schedule    cron.Schedule
	poll        PollFunc
	target      processor.Processor
	handler     processor.ExceptionHandler
	synchronous bool
	logger      *slog.Logger

	polling  atomic.Bool
	polls    atomic.Int64
	skipped  atomic.Int64
	inflight sync.WaitGroup

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	base   context.Context
}

// NewPoller creates a stopped poller. The spec is validated immediately.
func NewPoller(spec string, poll PollFunc, target processor.Processor, opts ...Option) (*Poller, error) {
	if poll == nil {
		return nil, ErrNilPollFunc
	}
	if target == nil {
		return nil, ErrNilTarget
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	p := &Poller{
		name:        "poller",
		spec:        spec,
		schedule:    schedule,
		poll:        poll,
		target:      target,
		handler:     processor.DiscardExceptions,
		synchronous: true,
		logger:      slog.Default(),
	}
	if st, ok := target.(strategist); ok {
		p.synchronous = st.Synchronous()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the poller name.
func (p *Poller) Name() string { return p.name }

// Synchronous reports whether each poll waits for the target.
func (p *Poller) Synchronous() bool { return p.synchronous }

// Spec returns the schedule the poller was created with.
func (p *Poller) Spec() string { return p.spec }

// Start schedules polling. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}
	p.base, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.cron = cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{p.logger}))
	base := p.base
	p.cron.Schedule(p.schedule, cron.FuncJob(func() {
		if err := p.run(base); errors.Is(err, ErrPollInProgress) {
			p.logger.Debug("poll skipped", slog.String("poller", p.name))
		}
	}))
	p.cron.Start()
	observability.LogLifecycle(p.logger, p.name, "started")
	return nil
}

// Stop stops scheduling and waits for running polls and asynchronous
// dispatches, or until ctx is done.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel, p.base = nil, nil, nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		p.inflight.Wait()
		close(done)
	}()
	defer cancel()
	select {
	case <-done:
		observability.LogLifecycle(p.logger, p.name, "stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the poller is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}

// PollNow runs one poll on the calling goroutine. It returns
// ErrPollInProgress when a poll is already running.
func (p *Poller) PollNow(ctx context.Context) error {
	return p.run(ctx)
}

// Polls returns the number of polls run.
func (p *Poller) Polls() int64 { return p.polls.Load() }

// Skipped returns the number of polls skipped because one was running.
func (p *Poller) Skipped() int64 { return p.skipped.Load() }

func (p *Poller) run(ctx context.Context) error {
	if !p.polling.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return ErrPollInProgress
	}
	defer p.polling.Store(false)
	p.polls.Add(1)

	events, err := p.poll(ctx)
	if err != nil {
		p.logger.Warn("poll failed",
			slog.String("poller", p.name),
			slog.String("error", err.Error()),
		)
		p.handler.HandleException(ctx, nil, err)
		return fmt.Errorf("poll %s: %w", p.name, err)
	}

	for _, evt := range events {
		if evt == nil {
			continue
		}
		if p.synchronous {
			p.dispatch(ctx, evt)
			continue
		}
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			p.dispatch(ctx, evt)
		}()
	}
	return nil
}

func (p *Poller) dispatch(ctx context.Context, evt *message.Event) {
	if _, err := p.target.Process(ctx, evt); err != nil {
		p.logger.Warn("polled event failed",
			slog.String("poller", p.name),
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
		p.handler.HandleException(ctx, evt, err)
	}
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
