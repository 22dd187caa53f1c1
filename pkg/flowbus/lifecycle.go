package flowbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/randalmurphal/flowbus/pkg/flowbus/notification"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/store"
)

// Startable is implemented by objects with a start phase.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by objects with a stop phase.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Component is a named object whose lifecycle a Context manages.
// Queue managers, flows, aggregators and pollers are components.
type Component interface {
	Name() string
	Startable
	Stoppable
}

// Tier orders components at start; lower tiers start first and stop last.
// Components of one tier start in registration order.
type Tier int

// Component tiers.
const (
	// TierInfrastructure holds queue managers and other shared resources
	// flows depend on.
	TierInfrastructure Tier = 0

	// TierService holds shared processing services such as correlators or
	// dead-letter redeliverers.
	TierService Tier = 100

	// TierFlow holds flow constructs.
	TierFlow Tier = 200

	// TierSource holds message sources such as pollers, started once the
	// flows they feed are running.
	TierSource Tier = 300
)

type registration struct {
	component Component
	tier      Tier
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithName sets the container name used as notification source.
func WithName(name string) ContextOption {
	return func(c *Context) { c.name = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = logger }
}

// WithNotifications sets the server lifecycle notifications are fired on.
// Default: a synchronous notification.Server owned by the context.
func WithNotifications(srv *notification.Server) ContextOption {
	return func(c *Context) { c.notifications = srv }
}

// Context is the container of a flowbus application. It owns the
// lifecycle of the registered components and the flow registry.
// Lifecycle notifications are fired while the context is locked, so
// synchronous listeners must not call Register, Start or Stop.
type Context struct {
	name          string
	logger        *slog.Logger
	notifications *notification.Server

	components *store.ObjectStore[string, Component]
	flows      *store.ObjectStore[string, *Flow]

	mu            sync.Mutex
	registrations []registration
	started       []registration
	running       bool
}

// NewContext creates a stopped container.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		name:       "flowbus",
		logger:     slog.Default(),
		components: store.New[string, Component](),
		flows:      store.New[string, *Flow](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifications == nil {
		c.notifications = notification.NewServer(notification.Config{Logger: c.logger})
	}
	return c
}

// Name returns the container name.
func (c *Context) Name() string { return c.name }

// Notifications returns the server lifecycle notifications are fired on.
func (c *Context) Notifications() *notification.Server { return c.notifications }

// Register adds a component in tier. Registering into a running context
// starts the component immediately.
func (c *Context) Register(ctx context.Context, comp Component, tier Tier) error {
	if comp == nil {
		return ErrNilComponent
	}
	if err := c.components.Store(comp.Name(), comp); err != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, comp.Name())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	reg := registration{component: comp, tier: tier}
	c.registrations = append(c.registrations, reg)
	if !c.running {
		return nil
	}
	if err := c.start(ctx, reg); err != nil {
		c.registrations = c.registrations[:len(c.registrations)-1]
		_, _ = c.components.Remove(comp.Name())
		return err
	}
	return nil
}

// AddFlow registers f in TierFlow and makes it available to Flow.
func (c *Context) AddFlow(ctx context.Context, f *Flow) error {
	if f == nil {
		return ErrNilComponent
	}
	if err := c.Register(ctx, f, TierFlow); err != nil {
		return err
	}
	c.flows.Put(f.Name(), f)
	return nil
}

// Flow returns the flow registered under name.
func (c *Context) Flow(name string) (*Flow, error) {
	f, err := c.flows.Retrieve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	return f, nil
}

// Flows returns the names of the registered flows.
func (c *Context) Flows() []string {
	names := c.flows.Keys()
	slices.Sort(names)
	return names
}

// Component returns the component registered under name.
func (c *Context) Component(name string) (Component, bool) {
	comp, err := c.components.Retrieve(name)
	return comp, err == nil
}

// Running reports whether the context is started.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start starts every component by ascending tier. If a component fails,
// the components already started are stopped in reverse order and the
// failure is returned as *LifecycleError.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.fire(ctx, notification.ContextStarting, c.name)

	ordered := slices.Clone(c.registrations)
	slices.SortStableFunc(ordered, func(a, b registration) int {
		return int(a.tier) - int(b.tier)
	})
	for _, reg := range ordered {
		if err := c.start(ctx, reg); err != nil {
			_ = c.stopAll(ctx)
			return err
		}
	}

	c.running = true
	observability.LogLifecycle(c.logger, c.name, "started")
	c.fire(ctx, notification.ContextStarted, c.name)
	return nil
}

func (c *Context) start(ctx context.Context, reg registration) error {
	name := reg.component.Name()
	if err := reg.component.Start(ctx); err != nil {
		return &LifecycleError{Component: name, Phase: "start", Err: err}
	}
	// started stays ordered by tier so stopAll can walk it backwards.
	at := slices.IndexFunc(c.started, func(s registration) bool { return s.tier > reg.tier })
	if at < 0 {
		at = len(c.started)
	}
	c.started = slices.Insert(c.started, at, reg)
	c.fire(ctx, notification.ComponentStarted, name)
	return nil
}

// Stop stops the started components by descending tier, in the reverse of
// their start order within a tier. Every component is stopped even if some fail; the failures are joined.
func (c *Context) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.fire(ctx, notification.ContextStopping, c.name)
	err := c.stopAll(ctx)
	c.running = false
	observability.LogLifecycle(c.logger, c.name, "stopped")
	c.fire(ctx, notification.ContextStopped, c.name)
	return err
}

func (c *Context) stopAll(ctx context.Context) error {
	var errs []error
	for _, reg := range slices.Backward(c.started) {
		name := reg.component.Name()
		if err := reg.component.Stop(ctx); err != nil {
			errs = append(errs, &LifecycleError{Component: name, Phase: "stop", Err: err})
			continue
		}
		c.fire(ctx, notification.ComponentStopped, name)
	}
	c.started = nil
	return errors.Join(errs...)
}

func (c *Context) fire(ctx context.Context, action notification.Action, resource string) {
	c.notifications.Fire(ctx, notification.New(action, c.name, resource, nil))
}
