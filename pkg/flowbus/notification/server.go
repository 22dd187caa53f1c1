package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe removes the subscription. It is safe to call more than once.
	Unsubscribe()

	// Pause temporarily stops delivery.
	Pause()

	// Resume continues delivery after pause.
	Resume()

	// IsPaused returns true if the subscription is paused.
	IsPaused() bool
}

// Config configures server behavior.
type Config struct {
	// Async delivers on a goroutine per subscription instead of on the
	// firing goroutine.
	// Default: false (synchronous)
	Async bool

	// BufferSize is the channel buffer per subscription in async mode.
	// Default: 256
	BufferSize int

	// NonBlocking drops notifications when a subscriber's buffer is full
	// (async mode only).
	NonBlocking bool

	// OnDrop is called when a notification is dropped.
	OnDrop func(n Notification, subscriberID string)

	// Logger receives listener panics. Default: slog.Default().
	Logger *slog.Logger
}

// Server is an in-memory notification fan-out.
type Server struct {
	config Config

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byAction      map[Action]map[string]*subscription
	wildcards     map[string]*subscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewServer creates a notification server.
func NewServer(config Config) *Server {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config:        config,
		subscriptions: make(map[string]*subscription),
		byAction:      make(map[Action]map[string]*subscription),
		wildcards:     make(map[string]*subscription),
		closeCh:       make(chan struct{}),
	}
}

type subscription struct {
	id       string
	actions  []Action
	listener Listener
	queue    chan queued
	paused   atomic.Bool
	done     chan struct{}
	once     sync.Once
	server   *Server
}

type queued struct {
	ctx context.Context
	n   Notification
}

// Fire delivers n to every subscriber of its action. A closed server drops
// notifications.
func (s *Server) Fire(ctx context.Context, n Notification) {
	if s.closed.Load() {
		return
	}

	s.mu.RLock()
	subs := s.matching(n.Action)
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.paused.Load() {
			continue
		}
		if !s.config.Async {
			sub.deliver(ctx, n)
			continue
		}
		if s.config.NonBlocking {
			select {
			case sub.queue <- queued{ctx: ctx, n: n}:
			default:
				if s.config.OnDrop != nil {
					s.config.OnDrop(n, sub.id)
				}
			}
			continue
		}
		select {
		case sub.queue <- queued{ctx: ctx, n: n}:
		case <-sub.done:
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		}
	}
}

// Subscribe registers listener for the given actions.
// Returns nil if the server is closed.
func (s *Server) Subscribe(actions []Action, listener Listener) Subscription {
	if len(actions) == 0 {
		return s.subscribe(nil, listener)
	}
	return s.subscribe(actions, listener)
}

// SubscribeAll registers listener for every action.
func (s *Server) SubscribeAll(listener Listener) Subscription {
	return s.subscribe(nil, listener)
}

func (s *Server) subscribe(actions []Action, listener Listener) Subscription {
	if s.closed.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{
		id:       fmt.Sprintf("sub-%d", s.nextID.Add(1)),
		actions:  actions,
		listener: listener,
		done:     make(chan struct{}),
		server:   s,
	}
	s.subscriptions[sub.id] = sub

	if len(actions) == 0 {
		s.wildcards[sub.id] = sub
	} else {
		for _, a := range actions {
			if s.byAction[a] == nil {
				s.byAction[a] = make(map[string]*subscription)
			}
			s.byAction[a][sub.id] = sub
		}
	}

	if s.config.Async {
		sub.queue = make(chan queued, s.config.BufferSize)
		go sub.process()
	}
	return sub
}

func (s *Server) matching(action Action) []*subscription {
	subs := make([]*subscription, 0, len(s.wildcards))
	for _, sub := range s.byAction[action] {
		subs = append(subs, sub)
	}
	for _, sub := range s.wildcards {
		subs = append(subs, sub)
	}
	return subs
}

// Len returns the number of active subscriptions.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions)
}

// Close stops delivery and ends every subscription.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.closeCh)

	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (sub *subscription) deliver(ctx context.Context, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			sub.server.config.Logger.Error("notification listener panic",
				slog.String("subscription", sub.id),
				slog.String("action", string(n.Action)),
				slog.Any("panic", r),
			)
		}
	}()
	sub.listener.OnNotification(ctx, n)
}

func (sub *subscription) process() {
	for {
		select {
		case q := <-sub.queue:
			if sub.paused.Load() {
				continue
			}
			sub.deliver(q.ctx, q.n)
		case <-sub.done:
			return
		}
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

// Unsubscribe removes the subscription.
func (sub *subscription) Unsubscribe() {
	s := sub.server
	s.mu.Lock()
	delete(s.subscriptions, sub.id)
	delete(s.wildcards, sub.id)
	for _, a := range sub.actions {
		delete(s.byAction[a], sub.id)
	}
	s.mu.Unlock()
	sub.stop()
}

// Pause temporarily stops delivery.
func (sub *subscription) Pause() { sub.paused.Store(true) }

// Resume continues delivery after pause.
func (sub *subscription) Resume() { sub.paused.Store(false) }

// IsPaused returns true if the subscription is paused.
func (sub *subscription) IsPaused() bool { return sub.paused.Load() }
