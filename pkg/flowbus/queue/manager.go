package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// Config configures a queue.
type Config struct {
	// Capacity bounds the number of items. Zero means unbounded.
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists queue contents. Without a store queues live only in
// memory and start empty in a new Manager.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithCodec sets how items are persisted (default JSONCodec).
func WithCodec(c Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// WithClock sets the clock used for Offer and Poll timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics recorder used for queue depth.
func WithMetrics(r observability.MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithName sets the manager name used in logs and lifecycle reporting.
func WithName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// Manager owns a set of named transactional queues.
type Manager struct {
	name    string
	store   Store
	codec   Codec
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu         sync.RWMutex
	queues     map[string]*queueState
	defaultCfg Config
	queueCfg   map[string]Config
	running    bool
	done       chan struct{}
}

// NewManager creates a stopped manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		name:     "queue-manager",
		codec:    JSONCodec{},
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		queues:   make(map[string]*queueState),
		queueCfg: make(map[string]Config),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the manager name.
func (m *Manager) Name() string { return m.name }

// SetDefaultConfig sets the configuration of queues without their own.
func (m *Manager) SetDefaultConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultCfg = cfg
	for name, q := range m.queues {
		if _, own := m.queueCfg[name]; !own {
			q.setCapacity(cfg.Capacity)
		}
	}
}

// SetQueueConfig sets the configuration of one queue.
func (m *Manager) SetQueueConfig(name string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueCfg[name] = cfg
	if q, ok := m.queues[name]; ok {
		q.setCapacity(cfg.Capacity)
	}
}

// Start makes the queues available. With a persistent store every queue
// is restored from it first. Starting a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if err := m.recoverLocked(ctx); err != nil {
		return fmt.Errorf("recover queues: %w", err)
	}
	m.running = true
	m.done = make(chan struct{})
	observability.LogLifecycle(m.logger, m.name, "started")
	return nil
}

func (m *Manager) recoverLocked(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	names, err := m.store.Queues()
	if err != nil {
		return err
	}
	for _, name := range names {
		records, err := m.store.Load(name)
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		entries := make([]entry, 0, len(records))
		for _, rec := range records {
			item, err := m.codec.Decode(rec.Data)
			if err != nil {
				return fmt.Errorf("decode %s/%d: %w", name, rec.Seq, err)
			}
			entries = append(entries, entry{seq: rec.Seq, item: item})
		}
		q := m.queueLocked(name)
		q.restore(entries)
		m.metrics.RecordQueueDepth(ctx, name, int64(len(entries)))
		m.logger.Debug("queue recovered",
			slog.String("queue", name),
			slog.Int("items", len(entries)),
		)
	}
	return nil
}

// Stop makes the queues unavailable and wakes every blocked operation with
// ErrNotStarted. Queue contents are kept.
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.done)
	observability.LogLifecycle(m.logger, m.name, "stopped")
	return nil
}

// Running reports whether the manager is started.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Session creates a new session.
func (m *Manager) Session() *Session {
	s := &Session{mgr: m}
	s.xa = &xaSession{session: s}
	return s
}

// queue returns the state of a queue and a channel closed on Stop.
func (m *Manager) queue(name string) (*queueState, <-chan struct{}, error) {
	m.mu.RLock()
	if !m.running {
		m.mu.RUnlock()
		return nil, nil, ErrNotStarted
	}
	q, ok := m.queues[name]
	done := m.done
	m.mu.RUnlock()
	if ok {
		return q, done, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, nil, ErrNotStarted
	}
	return m.queueLocked(name), m.done, nil
}

func (m *Manager) queueLocked(name string) *queueState {
	if q, ok := m.queues[name]; ok {
		return q
	}
	cfg, ok := m.queueCfg[name]
	if !ok {
		cfg = m.defaultCfg
	}
	q := newQueueState(name, cfg.Capacity)
	m.queues[name] = q
	return q
}

// insert persists and adds item. The caller holds q.mu.
func (m *Manager) insert(ctx context.Context, q *queueState, item any, front bool) error {
	e := entry{seq: q.nextSeq(front), item: item}
	if m.store != nil {
		data, err := m.codec.Encode(item)
		if err != nil {
			return fmt.Errorf("encode item for %s: %w", q.name, err)
		}
		if err := m.store.Put(q.name, e.seq, data); err != nil {
			return err
		}
	}
	q.insert(e, front)
	m.metrics.RecordQueueDepth(ctx, q.name, int64(len(q.items)))
	return nil
}

// forget removes a taken entry from the store.
func (m *Manager) forget(q *queueState, e entry) error {
	if m.store == nil {
		return nil
	}
	return m.store.Remove(q.name, e.seq)
}
