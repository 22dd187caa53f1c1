package transaction

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// Manager begins XA transactions and owns the ResourceManager they use.
type Manager struct {
	resources *ResourceManager
	coord     *Coordination
	journal   Journal
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithJournal sets where transaction outcomes are recorded.
func WithJournal(j Journal) ManagerOption {
	return func(m *Manager) { m.journal = j }
}

// WithCoordination shares a coordination registry.
func WithCoordination(c *Coordination) ManagerOption {
	return func(m *Manager) { m.coord = c }
}

// WithClock sets the clock used for transaction timestamps.
func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r observability.MetricsRecorder) ManagerOption {
	return func(m *Manager) { m.metrics = r }
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) ManagerOption {
	return func(m *Manager) { m.spans = s }
}

// NewManager creates a transaction manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.coord == nil {
		m.coord = NewCoordination()
	}
	if m.journal == nil {
		m.journal = NewMemoryJournal()
	}
	m.resources = NewResourceManager(m.logger)
	return m
}

// Begin starts a new XA transaction.
func (m *Manager) Begin(ctx context.Context) (*XATransaction, error) {
	tx := &XATransaction{manager: m}
	tx.init(m.coord)
	if err := tx.Begin(ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

// BeginTransaction implements Factory.
func (m *Manager) BeginTransaction(ctx context.Context) (Transaction, error) {
	return m.Begin(ctx)
}

// ResourceManager returns the resource manager.
func (m *Manager) ResourceManager() *ResourceManager { return m.resources }

// Coordination returns the registry of active transactions.
func (m *Manager) Coordination() *Coordination { return m.coord }

// Journal returns the outcome journal.
func (m *Manager) Journal() Journal { return m.journal }

func (m *Manager) journalStatus(ctx context.Context, tx *XATransaction, st Status, resources int, cause error) {
	rec := Record{
		TxID:      tx.id,
		Status:    st,
		Resources: resources,
		StartedAt: tx.started,
	}
	if st.Completed() {
		rec.FinishedAt = m.clock.Now()
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := m.journal.Save(ctx, rec); err != nil {
		m.logger.Warn("journal write failed",
			slog.String("tx_id", tx.id),
			slog.String("error", err.Error()),
		)
	}
}
