package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// LocalResource is a resource with its own local commit and rollback, such
// as a queue session.
type LocalResource interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LocalTransaction is a single-resource, non-XA transaction. It commits or
// rolls back the one LocalResource bound to it.
type LocalTransaction struct {
	state
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// LocalOption configures local transactions.
type LocalOption func(*LocalTransaction)

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(t *LocalTransaction) { t.logger = logger }
}

// WithLocalMetrics sets the metrics recorder.
func WithLocalMetrics(m observability.MetricsRecorder) LocalOption {
	return func(t *LocalTransaction) { t.metrics = m }
}

// NewLocalTransaction creates a local transaction tracked by coord. A nil
// coord gets a private registry.
func NewLocalTransaction(coord *Coordination, opts ...LocalOption) *LocalTransaction {
	t := &LocalTransaction{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	t.init(coord)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LocalFactory returns a Factory beginning local transactions.
func LocalFactory(coord *Coordination, opts ...LocalOption) Factory {
	return FactoryFunc(func(ctx context.Context) (Transaction, error) {
		tx := NewLocalTransaction(coord, opts...)
		if err := tx.Begin(ctx); err != nil {
			return nil, err
		}
		return tx, nil
	})
}

// IsXA reports false.
func (t *LocalTransaction) IsXA() bool { return false }

// Begin activates the transaction.
func (t *LocalTransaction) Begin(_ context.Context) error {
	if err := t.transition(StatusActive, StatusNoTransaction); err != nil {
		return err
	}
	t.started = time.Now()
	t.coord.register(t)
	return nil
}

// BindResource binds the single resource of the transaction. Binding the
// same key again is a no-op. A LocalResource is begun when bound.
func (t *LocalTransaction) BindResource(key, resource any) error {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return ErrNotActive
	}
	if _, ok := t.resources[key]; ok {
		t.mu.Unlock()
		return nil
	}
	if len(t.resources) > 0 {
		t.mu.Unlock()
		return ErrResourceBound
	}
	t.resources[key] = resource
	t.mu.Unlock()

	if lr, ok := resource.(LocalResource); ok {
		return lr.Begin(context.Background())
	}
	return nil
}

func (t *LocalTransaction) bound() LocalResource {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.resources {
		if lr, ok := r.(LocalResource); ok {
			return lr
		}
	}
	return nil
}

// Commit commits the bound resource. A rollback-only transaction is rolled
// back instead and ErrMarkedRollback is returned.
func (t *LocalTransaction) Commit(ctx context.Context) error {
	if t.IsRollbackOnly() {
		if err := t.Rollback(ctx); err != nil {
			return errors.Join(ErrMarkedRollback, err)
		}
		return ErrMarkedRollback
	}
	if err := t.transition(StatusCommitting, StatusActive); err != nil {
		return err
	}
	defer t.coord.unregister(t)

	if lr := t.bound(); lr != nil {
		if err := lr.Commit(ctx); err != nil {
			t.setStatus(StatusRolledBack)
			observability.LogTransactionError(t.logger, t.id, "commit", err)
			t.metrics.RecordTransaction(ctx, "failed", 1)
			return fmt.Errorf("commit local transaction %s: %w", t.id, err)
		}
	}
	t.setStatus(StatusCommitted)
	n := t.resourceCount()
	observability.LogTransactionComplete(t.logger, t.id, "committed", n)
	t.metrics.RecordTransaction(ctx, "committed", n)
	return nil
}

// Rollback rolls back the bound resource.
func (t *LocalTransaction) Rollback(ctx context.Context) error {
	if err := t.transition(StatusRollingBack, StatusActive, StatusSuspended); err != nil {
		return err
	}
	defer t.coord.unregister(t)

	var err error
	if lr := t.bound(); lr != nil {
		err = lr.Rollback(ctx)
	}
	t.setStatus(StatusRolledBack)
	n := t.resourceCount()
	if err != nil {
		observability.LogTransactionError(t.logger, t.id, "rollback", err)
		t.metrics.RecordTransaction(ctx, "failed", n)
		return fmt.Errorf("rollback local transaction %s: %w", t.id, err)
	}
	observability.LogTransactionComplete(t.logger, t.id, "rolled_back", n)
	t.metrics.RecordTransaction(ctx, "rolled_back", n)
	return nil
}

// Suspend is not supported by local transactions.
func (t *LocalTransaction) Suspend(context.Context) error {
	return fmt.Errorf("suspend local transaction: %w", ErrIllegalTransactionState)
}

// Resume is not supported by local transactions.
func (t *LocalTransaction) Resume(context.Context) error {
	return fmt.Errorf("resume local transaction: %w", ErrIllegalTransactionState)
}
