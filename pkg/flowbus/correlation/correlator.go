package correlation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/notification"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

const (
	// DefaultMaxProcessedGroups bounds the memory of already aggregated groups.
	DefaultMaxProcessedGroups = 50000

	// DefaultMonitorInterval is how often expired groups are collected.
	DefaultMonitorInterval = 100 * time.Millisecond

	defaultUnclaimedResults = 1024
)

// Option configures a Correlator.
type Option func(*Correlator)

// WithName sets the name used as notification source and in logs.
func WithName(name string) Option {
	return func(c *Correlator) { c.name = name }
}

// WithTimeout sets how long a group may stay incomplete. Zero disables expiry.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

// WithFailOnTimeout selects what happens to expired groups. When true
// (the default) they are reported as failures; when false the partial
// group is aggregated and sent to the timeout processor.
func WithFailOnTimeout(fail bool) Option {
	return func(c *Correlator) { c.failOnTimeout = fail }
}

// WithClock sets the clock used for group ages and the expiry monitor.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Correlator) { c.clock = clock }
}

// WithMonitorInterval sets how often the background monitor expires groups.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *Correlator) { c.monitorInterval = d }
}

// WithNotifier sets where routing notifications are fired.
func WithNotifier(f notification.Firer) Option {
	return func(c *Correlator) { c.notifier = f }
}

// WithExceptionHandler sets the handler for failed and expired groups.
func WithExceptionHandler(h processor.ExceptionHandler) Option {
	return func(c *Correlator) { c.handler = h }
}

// WithTimeoutProcessor sets where partial groups go when
// FailOnTimeout is false.
func WithTimeoutProcessor(p processor.Processor) Option {
	return func(c *Correlator) { c.timeoutProcessor = p }
}

// WithMaxProcessedGroups bounds the set of remembered processed groups.
func WithMaxProcessedGroups(n int) Option {
	return func(c *Correlator) { c.maxProcessed = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Correlator) { c.metrics = m }
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(c *Correlator) { c.spans = s }
}

// Correlator collects correlated events into groups and aggregates
// complete groups. It is safe for concurrent use: events of one group may
// arrive on any number of goroutines.
type Correlator struct {
	callback         Callback
	name             string
	timeout          time.Duration
	failOnTimeout    bool
	clock            clockwork.Clock
	monitorInterval  time.Duration
	notifier         notification.Firer
	handler          processor.ExceptionHandler
	timeoutProcessor processor.Processor
	maxProcessed     int
	logger           *slog.Logger
	metrics          observability.MetricsRecorder
	spans            observability.SpanManager

	mu        sync.Mutex
	groups    map[string]*EventGroup
	processed *lru.Cache[string, struct{}]
	unclaimed *lru.Cache[string, *message.Event]
	waiters   map[string][]chan *message.Event

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCorrelator creates a correlator aggregating groups with callback.
func NewCorrelator(callback Callback, opts ...Option) (*Correlator, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	c := &Correlator{
		callback:        callback,
		name:            "correlator",
		failOnTimeout:   true,
		clock:           clockwork.NewRealClock(),
		monitorInterval: DefaultMonitorInterval,
		notifier:        notification.Discard,
		handler:         processor.DiscardExceptions,
		maxProcessed:    DefaultMaxProcessedGroups,
		metrics:         observability.NoopMetrics{},
		spans:           observability.NoopSpanManager{},
		groups:          make(map[string]*EventGroup),
		waiters:         make(map[string][]chan *message.Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("correlator", c.name))

	processed, err := lru.New[string, struct{}](c.maxProcessed)
	if err != nil {
		return nil, err
	}
	unclaimed, err := lru.New[string, *message.Event](defaultUnclaimedResults)
	if err != nil {
		return nil, err
	}
	c.processed = processed
	c.unclaimed = unclaimed
	return c, nil
}

// Name returns the correlator name.
func (c *Correlator) Name() string { return c.name }

// Process adds evt to its group. It returns the aggregated event when evt
// completes the group and nil otherwise. Events for a group that was already
// aggregated are dropped with a MissedAggregationGroup notification.
func (c *Correlator) Process(ctx context.Context, evt *message.Event) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	id := evt.CorrelationID()
	if id == "" {
		return nil, ErrNoCorrelationID
	}

	for {
		g, processed := c.groupFor(evt, id)
		if processed {
			c.logger.Debug("event for processed group dropped",
				slog.String("group_id", id),
				slog.String("event_id", evt.ID()),
			)
			c.notifier.Fire(ctx, notification.New(notification.MissedAggregationGroup, c.name, id, evt))
			return nil, nil
		}

		g.turn.Lock()
		if g.removed {
			// Aggregated or expired between lookup and lock.
			g.turn.Unlock()
			continue
		}
		g.add(evt)
		if !c.callback.ShouldAggregate(g) {
			g.turn.Unlock()
			return nil, nil
		}
		result, err := c.aggregate(ctx, g)
		c.retire(g, true)
		g.turn.Unlock()

		if err != nil {
			return nil, c.discard(ctx, g, err)
		}
		c.deliver(id, result)
		return result, nil
	}
}

// groupFor returns the open group for id, creating it when needed. The
// second result reports that id was already processed.
func (c *Correlator) groupFor(evt *message.Event, id string) (*EventGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.processed.Contains(id) {
		return nil, true
	}
	if g, ok := c.groups[id]; ok {
		return g, false
	}
	g := c.callback.CreateEventGroup(evt, id)
	if g == nil {
		g = NewEventGroup(id, evt.GroupSize())
	}
	g.created = c.clock.Now()
	c.groups[id] = g
	return g, false
}

// aggregate runs the callback. The caller holds g.turn.
func (c *Correlator) aggregate(ctx context.Context, g *EventGroup) (*message.Event, error) {
	size := g.Size()
	ctx, span := c.spans.StartAggregateSpan(ctx, g.ID(), size)
	done := observability.TimedOperation()
	start := time.Now()

	result, err := c.callback.AggregateEvents(ctx, g)
	if err == nil && result == nil {
		err = errors.New("callback produced no event")
	}
	c.spans.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}

	c.metrics.RecordAggregation(ctx, size, time.Since(start))
	observability.LogGroupAggregated(c.logger, g.ID(), size, done())
	return result, nil
}

// retire removes g from the open groups. The caller holds g.turn.
func (c *Correlator) retire(g *EventGroup, markProcessed bool) {
	c.mu.Lock()
	if cur, ok := c.groups[g.id]; ok && cur == g {
		delete(c.groups, g.id)
	}
	if markProcessed {
		c.processed.Add(g.id, struct{}{})
	}
	c.mu.Unlock()
	g.removed = true
}

// discard reports a group whose aggregation failed.
func (c *Correlator) discard(ctx context.Context, g *EventGroup, err error) error {
	events := g.Events()
	aggErr := &AggregationError{GroupID: g.ID(), Events: events, Err: err}
	observability.LogGroupDiscarded(c.logger, g.ID(), len(events), "aggregation_failed", err)
	c.metrics.RecordGroupDiscarded(ctx, "aggregation_failed")
	c.handler.HandleException(ctx, g.ToCollection(), aggErr)
	return aggErr
}

// deliver hands result to goroutines waiting in AwaitResponse, or keeps it
// for a later caller.
func (c *Correlator) deliver(id string, result *message.Event) {
	c.mu.Lock()
	waiters := c.waiters[id]
	delete(c.waiters, id)
	if len(waiters) == 0 {
		c.unclaimed.Add(id, result)
	}
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- result
	}
}

// Group returns the open group for id.
func (c *Correlator) Group(id string) (*EventGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[id]
	return g, ok
}

// Len returns the number of open groups.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// Processed reports whether the group id was already aggregated or discarded.
func (c *Correlator) Processed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed.Contains(id)
}

// AwaitResponse waits for the aggregated result of group id. A timeout of
// zero uses the correlator timeout; if that is zero too it waits until ctx
// is done. When the wait times out and FailOnTimeout is set, a
// *ResponseTimeoutError is returned; otherwise the partial group is
// aggregated and returned.
func (c *Correlator) AwaitResponse(ctx context.Context, id string, timeout time.Duration) (*message.Event, error) {
	c.mu.Lock()
	if result, ok := c.unclaimed.Get(id); ok {
		c.unclaimed.Remove(id)
		c.mu.Unlock()
		return result, nil
	}
	ch := make(chan *message.Event, 1)
	c.waiters[id] = append(c.waiters[id], ch)
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.timeout
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := c.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		if result, ok := c.abandon(id, ch); ok {
			return result, nil
		}
		return nil, ctx.Err()
	case <-expired:
	}

	if result, ok := c.abandon(id, ch); ok {
		return result, nil
	}
	if c.failOnTimeout {
		c.logger.Warn("async reply timed out",
			slog.String("group_id", id),
			slog.Duration("timeout", timeout),
		)
		c.notifier.Fire(ctx, notification.New(notification.AsyncReplyTimeout, c.name, id, nil))
		return nil, &ResponseTimeoutError{GroupID: id, Timeout: timeout}
	}
	result, err := c.forceAggregate(ctx, id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &ResponseTimeoutError{GroupID: id, Timeout: timeout}
	}
	return result, nil
}

// abandon unregisters ch. A result that was delivered concurrently is
// returned instead of being lost.
func (c *Correlator) abandon(id string, ch chan *message.Event) (*message.Event, bool) {
	c.mu.Lock()
	waiters := c.waiters[id]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.waiters, id)
	} else {
		c.waiters[id] = waiters
	}
	c.mu.Unlock()

	select {
	case result := <-ch:
		return result, true
	default:
		return nil, false
	}
}

// forceAggregate aggregates whatever group id holds right now.
func (c *Correlator) forceAggregate(ctx context.Context, id string) (*message.Event, error) {
	g, ok := c.Group(id)
	if !ok {
		return nil, nil
	}
	g.turn.Lock()
	if g.removed {
		g.turn.Unlock()
		return nil, nil
	}
	result, err := c.aggregate(ctx, g)
	c.retire(g, true)
	g.turn.Unlock()
	if err != nil {
		return nil, c.discard(ctx, g, err)
	}
	return result, nil
}

// ExpireGroups removes every group older than the timeout and returns how
// many were expired. Expired groups are not remembered as processed, so a
// late event starts a new group.
func (c *Correlator) ExpireGroups(ctx context.Context) int {
	if c.timeout <= 0 {
		return 0
	}
	now := c.clock.Now()

	c.mu.Lock()
	var expired []*EventGroup
	for _, g := range c.groups {
		if now.Sub(g.created) >= c.timeout {
			expired = append(expired, g)
		}
	}
	c.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].created.Before(expired[j].created)
	})

	n := 0
	for _, g := range expired {
		g.turn.Lock()
		if g.removed {
			g.turn.Unlock()
			continue
		}
		c.retire(g, false)
		g.turn.Unlock()
		n++
		c.expire(ctx, g)
	}
	return n
}

func (c *Correlator) expire(ctx context.Context, g *EventGroup) {
	events := g.Events()
	if c.failOnTimeout {
		c.notifier.Fire(ctx, notification.New(notification.CorrelationTimeout, c.name, g.ID(), g.ToCollection()))
		timeoutErr := &CorrelationTimeoutError{GroupID: g.ID(), Expected: g.ExpectedSize(), Events: events}
		observability.LogGroupDiscarded(c.logger, g.ID(), len(events), "timeout", timeoutErr)
		c.metrics.RecordGroupDiscarded(ctx, "timeout")
		c.handler.HandleException(ctx, g.ToCollection(), timeoutErr)
		return
	}

	result, err := c.aggregate(ctx, g)
	if err != nil {
		_ = c.discard(ctx, g, err)
		return
	}
	c.deliver(g.ID(), result)
	if c.timeoutProcessor == nil {
		c.logger.Debug("partial group aggregated without timeout processor",
			slog.String("group_id", g.ID()),
		)
		return
	}
	if _, err := c.timeoutProcessor.Process(ctx, result); err != nil {
		c.logger.Error("timeout processor failed",
			slog.String("group_id", g.ID()),
			slog.String("error", err.Error()),
		)
		c.handler.HandleException(ctx, result, err)
	}
}

// Start launches the expiry monitor. Calling Start on a running correlator
// is a no-op.
func (c *Correlator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ticker := c.clock.NewTicker(c.monitorInterval)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.monitor(runCtx, ticker, c.done)

	observability.LogLifecycle(c.logger, c.name, "started")
	return nil
}

func (c *Correlator) monitor(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.ExpireGroups(ctx)
		}
	}
}

// Stop halts the expiry monitor and waits for it to exit. Open groups are
// kept.
func (c *Correlator) Stop(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done == nil {
		return nil
	}

	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.cancel = nil
	c.done = nil

	observability.LogLifecycle(c.logger, c.name, "stopped")
	return nil
}
