package flowbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
	"github.com/randalmurphal/flowbus/pkg/flowbus/queue"
	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

// Strategy selects how a flow processes the events sent to it.
type Strategy int

const (
	// Synchronous processes each event on the sending goroutine and returns
	// the result.
	Synchronous Strategy = iota

	// Asynchronous hands each event to the flow's workers and returns
	// immediately.
	Asynchronous
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Synchronous:
		return "synchronous"
	case Asynchronous:
		return "asynchronous"
	default:
		return "unknown"
	}
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithExceptionHandler receives the events that fail in the flow.
// Default: processor.DiscardExceptions
func WithExceptionHandler(h processor.ExceptionHandler) FlowOption {
	return func(f *Flow) { f.handler = h }
}

// WithTransaction runs each event under the given transaction configuration.
func WithTransaction(cfg *transaction.Config) FlowOption {
	return func(f *Flow) { f.txConfig = cfg }
}

// WithStrategy sets the processing strategy.
// Default: Synchronous
func WithStrategy(s Strategy) FlowOption {
	return func(f *Flow) { f.strategy = s }
}

// WithWorkers sets the number of workers of an asynchronous flow.
// Default: 4
func WithWorkers(n int) FlowOption {
	return func(f *Flow) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithBacklog sets how many events an asynchronous flow buffers before
// Process blocks.
// Default: 256
func WithBacklog(n int) FlowOption {
	return func(f *Flow) {
		if n >= 0 {
			f.backlog = n
		}
	}
}

// WithQueues gives every event its own session on mgr. The session joins
// the event's transaction and is available to processors through
// queue.SessionFromContext.
func WithQueues(mgr *queue.Manager) FlowOption {
	return func(f *Flow) { f.queues = mgr }
}

// WithFlowLogger sets the logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) { f.logger = logger }
}

// WithFlowMetrics sets the metrics recorder.
func WithFlowMetrics(m observability.MetricsRecorder) FlowOption {
	return func(f *Flow) { f.metrics = m }
}

// WithFlowSpans sets the span manager.
func WithFlowSpans(s observability.SpanManager) FlowOption {
	return func(f *Flow) { f.spans = s }
}

// Flow is a named, independently started message-processing pipeline.
type Flow struct {
	name       string
	processors []processor.Processor
	chain      processor.Processor
	handler    processor.ExceptionHandler
	txConfig   *transaction.Config
	template   *transaction.Template
	strategy   Strategy
	workers    int
	backlog    int
	queues     *queue.Manager
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager

	mu      sync.RWMutex
	running bool
	started []Startable
	jobs    chan job
	group   *errgroup.Group
}

type job struct {
	ctx context.Context
	evt *message.Event
}

// NewFlow creates a stopped flow running processors in sequence.
func NewFlow(name string, processors []processor.Processor, opts ...FlowOption) (*Flow, error) {
	if len(processors) == 0 {
		return nil, ErrNilProcessor
	}
	f := &Flow{
		name:       name,
		processors: slices.Clone(processors),
		chain:      processor.Chain(processors...),
		handler:    processor.DiscardExceptions,
		workers:    4,
		backlog:    256,
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.template = transaction.NewTemplate(f.txConfig, f.logger)
	return f, nil
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Strategy returns the processing strategy.
func (f *Flow) Strategy() Strategy { return f.strategy }

// Synchronous reports whether Process returns only after the event has
// been processed.
func (f *Flow) Synchronous() bool { return f.strategy == Synchronous }

// Running reports whether the flow accepts events.
func (f *Flow) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// Start starts the processors that have a lifecycle, in order, then the
// workers of an asynchronous flow. Starting a running flow is a no-op.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	for _, p := range f.processors {
		s, ok := p.(Startable)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			_ = f.stopProcessors(ctx)
			return fmt.Errorf("start processor %s: %w", processor.NameOf(p), err)
		}
		f.started = append(f.started, s)
	}

	if f.strategy == Asynchronous {
		f.jobs = make(chan job, f.backlog)
		f.group = new(errgroup.Group)
		for range f.workers {
			f.group.Go(f.work)
		}
	}
	f.running = true
	observability.LogLifecycle(f.logger, f.name, "started")
	return nil
}

// Stop stops accepting events, drains an asynchronous backlog and stops
// the processors in reverse order.
func (f *Flow) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false

	if f.jobs != nil {
		close(f.jobs)
		_ = f.group.Wait()
		f.jobs, f.group = nil, nil
	}
	err := f.stopProcessors(ctx)
	observability.LogLifecycle(f.logger, f.name, "stopped")
	return err
}

func (f *Flow) stopProcessors(ctx context.Context) error {
	var errs []error
	for _, s := range slices.Backward(f.started) {
		stop, ok := s.(Stoppable)
		if !ok {
			continue
		}
		if err := stop.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	f.started = nil
	if len(errs) > 0 {
		return fmt.Errorf("stop processors of %s: %w", f.name, errors.Join(errs...))
	}
	return nil
}

// Process sends evt through the flow. A synchronous flow returns the
// result; an asynchronous flow queues the event and returns nil.
// Failures are passed to the exception handler and, for a synchronous
// flow, returned as *FlowError.
func (f *Flow) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	evt = evt.WithFlow(f.name)

	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.running {
		return nil, fmt.Errorf("%w: %s", ErrFlowStopped, f.name)
	}
	if f.strategy == Synchronous {
		return f.run(ctx, evt)
	}

	select {
	case f.jobs <- job{ctx: context.WithoutCancel(ctx), evt: evt}:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Flow) work() error {
	for j := range f.jobs {
		_, _ = f.run(j.ctx, j.evt)
	}
	return nil
}

func (f *Flow) run(ctx context.Context, evt *message.Event) (*message.Event, error) {
	logger := observability.EnrichLogger(f.logger, f.name, evt.CorrelationID())
	ctx = withScope(ctx, Scope{
		Flow:          f.name,
		EventID:       evt.ID(),
		CorrelationID: evt.CorrelationID(),
		Logger:        logger,
	})
	ctx, span := f.spans.StartRouteSpan(ctx, f.name, evt.ID())
	start := time.Now()

	out, err := transaction.Execute(ctx, f.template, func(ctx context.Context) (*message.Event, error) {
		if f.queues != nil {
			sess := f.queues.Session()
			if err := sess.JoinTransaction(ctx); err != nil {
				return nil, fmt.Errorf("join queue session: %w", err)
			}
			ctx = queue.WithSession(ctx, sess)
		}
		return f.chain.Process(ctx, evt)
	})

	f.metrics.RecordDispatch(ctx, f.name, time.Since(start), err)
	f.spans.EndSpanWithError(span, err)
	if err != nil {
		logger.Warn("flow processing failed",
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
		f.handler.HandleException(ctx, evt, err)
		return nil, &FlowError{Flow: f.name, EventID: evt.ID(), Err: err}
	}
	return out, nil
}
