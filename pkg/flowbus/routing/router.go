package routing

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	fberrors "github.com/randalmurphal/flowbus/pkg/flowbus/errors"
	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

// Router is an outbound router.
type Router interface {
	processor.Processor
	processor.Named

	// IsMatch reports whether the router accepts evt.
	IsMatch(ctx context.Context, evt *message.Event) (bool, error)

	// Route dispatches evt to the router's routes.
	Route(ctx context.Context, evt *message.Event) (*message.Event, error)
}

// Option configures an outbound router.
type Option func(*settings)

type settings struct {
	name       string
	matcher    Matcher
	matcherErr error
	retry      fberrors.RetryConfig
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager

	parallel      bool
	parallelLimit int

	recipientProperty string
	recipients        []string
	lookup            RecipientLookup
}

// WithName names the router in logs, metrics and spans.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithMatcher sets the match predicate.
func WithMatcher(m Matcher) Option {
	return func(s *settings) { s.matcher = m }
}

// WithExpression sets an expression predicate. A compile failure makes
// every IsMatch call fail with the compile error.
func WithExpression(src string) Option {
	return func(s *settings) {
		m, err := NewExprMatcher(src)
		if err != nil {
			s.matcherErr = err
			return
		}
		s.matcher = m
	}
}

// WithRetry retries each route dispatch according to cfg.
func WithRetry(cfg fberrors.RetryConfig) Option {
	return func(s *settings) { s.retry = cfg }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *settings) { s.metrics = m }
}

// WithSpans sets the span manager.
func WithSpans(sm observability.SpanManager) Option {
	return func(s *settings) { s.spans = sm }
}

// WithParallel makes a multicasting router dispatch to all routes
// concurrently, with at most limit in flight (0 for no limit).
func WithParallel(limit int) Option {
	return func(s *settings) {
		s.parallel = true
		s.parallelLimit = limit
	}
}

func newSettings(defaultName string, opts []Option) settings {
	s := settings{
		name:              defaultName,
		retry:             fberrors.NoRetry,
		recipientProperty: DefaultRecipientProperty,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	if s.spans == nil {
		s.spans = observability.NoopSpanManager{}
	}
	return s
}

// OutboundRouter holds the routes and predicate shared by every router kind.
type OutboundRouter struct {
	settings

	mu     sync.RWMutex
	routes []processor.Processor
}

func (r *OutboundRouter) init(defaultName string, opts []Option) {
	r.settings = newSettings(defaultName, opts)
}

// Name returns the router name.
func (r *OutboundRouter) Name() string { return r.name }

// AddRoute appends route. It fails with *RouteTypeError if route is not a
// processor.Processor.
func (r *OutboundRouter) AddRoute(route any) error {
	p, ok := route.(processor.Processor)
	if !ok || p == nil {
		return &RouteTypeError{Index: -1, Value: route}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, p)
	return nil
}

// SetRoutes replaces every route. Every element must be a
// processor.Processor; otherwise *RouteTypeError is returned and the
// current routes are left unchanged.
func (r *OutboundRouter) SetRoutes(routes []any) error {
	next := make([]processor.Processor, 0, len(routes))
	for i, route := range routes {
		p, ok := route.(processor.Processor)
		if !ok || p == nil {
			return &RouteTypeError{Index: i, Value: route}
		}
		next = append(next, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = next
	return nil
}

// RemoveRoute removes the first occurrence of route. It reports whether a
// route was removed. Routes of an uncomparable type, such as processor.Func,
// never match; remove those with RemoveRouteAt.
func (r *OutboundRouter) RemoveRoute(route processor.Processor) bool {
	if route == nil || !reflect.TypeOf(route).Comparable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.routes {
		if reflect.TypeOf(p) == reflect.TypeOf(route) && p == route {
			r.routes = append(r.routes[:i:i], r.routes[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveRouteAt removes the route at index i and returns it.
func (r *OutboundRouter) RemoveRouteAt(i int) (processor.Processor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.routes) {
		return nil, false
	}
	p := r.routes[i]
	r.routes = append(r.routes[:i:i], r.routes[i+1:]...)
	return p, true
}

// Routes returns a copy of the routes.
func (r *OutboundRouter) Routes() []processor.Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]processor.Processor(nil), r.routes...)
}

// IsMatch evaluates the predicate. A router without one matches everything.
func (r *OutboundRouter) IsMatch(ctx context.Context, evt *message.Event) (bool, error) {
	if r.matcherErr != nil {
		return false, r.matcherErr
	}
	if r.matcher == nil {
		return true, nil
	}
	return r.matcher.Match(ctx, evt)
}

// dispatch sends evt to route, applying the retry policy.
func (r *OutboundRouter) dispatch(ctx context.Context, route processor.Processor, evt *message.Event) (*message.Event, error) {
	if r.retry.MaxAttempts <= 1 {
		return route.Process(ctx, evt)
	}
	result := fberrors.WithRetryContext(ctx, r.retry, func(ctx context.Context) (*message.Event, error) {
		return route.Process(ctx, evt)
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Value, nil
}

// observe wraps a full Route call with a span, metrics and logs.
func (r *OutboundRouter) observe(ctx context.Context, evt *message.Event, routes int,
	fn func(ctx context.Context) (*message.Event, error)) (*message.Event, error) {
	if evt == nil {
		return nil, message.ErrNilEvent
	}
	ctx, span := r.spans.StartRouteSpan(ctx, r.name, evt.ID())
	start := time.Now()
	done := observability.TimedOperation()

	out, err := fn(ctx)

	r.spans.EndSpanWithError(span, err)
	r.metrics.RecordDispatch(ctx, r.name, time.Since(start), err)
	if err != nil {
		observability.LogRouteError(r.logger, r.name, evt.ID(), err)
		var re *RoutingError
		if !errors.As(err, &re) {
			err = &RoutingError{Router: r.name, Event: evt, Err: err}
		}
		return nil, err
	}
	observability.LogRouteDispatched(r.logger, r.name, evt.ID(), routes, done())
	return out, nil
}
