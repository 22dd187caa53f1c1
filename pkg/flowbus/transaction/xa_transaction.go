package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// XATransaction is a distributed transaction coordinated by a Manager.
type XATransaction struct {
	state
	manager *Manager
}

// IsXA reports true.
func (t *XATransaction) IsXA() bool { return true }

// Begin activates the transaction and records it in the journal.
func (t *XATransaction) Begin(ctx context.Context) error {
	if err := t.transition(StatusActive, StatusNoTransaction); err != nil {
		return err
	}
	t.started = t.manager.clock.Now()
	t.coord.register(t)
	t.manager.journalStatus(ctx, t, StatusActive, 0, nil)
	return nil
}

// Enlist adds res to the transaction.
func (t *XATransaction) Enlist(ctx context.Context, res XAResource) error {
	if st := t.Status(); st != StatusActive && st != StatusMarkedRollback {
		return fmt.Errorf("enlist in %s transaction: %w", st, ErrNotActive)
	}
	if _, err := t.manager.resources.Enlist(ctx, t.id, res); err != nil {
		return err
	}
	t.mu.Lock()
	t.resources[res] = res
	t.mu.Unlock()
	return nil
}

// Delist ends the work of res without removing it from the transaction.
func (t *XATransaction) Delist(ctx context.Context, res XAResource, success bool) error {
	return t.manager.resources.Delist(ctx, t.id, res, success)
}

// BindResource binds resource under key. XA resources are enlisted.
func (t *XATransaction) BindResource(key, resource any) error {
	if res, ok := resource.(XAResource); ok {
		if err := t.Enlist(context.Background(), res); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Completed() {
		return ErrNotActive
	}
	t.resources[key] = resource
	return nil
}

// Holders returns the enlisted resources of the transaction.
func (t *XATransaction) Holders() []*Holder {
	return t.manager.resources.Holders(t.id)
}

// Commit runs two-phase commit over the enlisted resources. A rollback-only
// transaction is rolled back and ErrMarkedRollback is returned.
func (t *XATransaction) Commit(ctx context.Context) error {
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

	ctx, span := t.manager.spans.StartTransactionSpan(ctx, t.id)
	n := len(t.Holders())
	err := t.manager.resources.Commit(ctx, t.id)
	t.manager.spans.EndSpanWithError(span, err)

	var rbErr *RollbackError
	switch {
	case err == nil:
		t.complete(ctx, StatusCommitted, "committed", n, nil)
	case errors.As(err, &rbErr):
		t.complete(ctx, StatusRolledBack, "rolled_back", n, err)
	default:
		t.complete(ctx, StatusCommitted, "failed", n, err)
	}
	return err
}

// Rollback rolls back every enlisted resource.
func (t *XATransaction) Rollback(ctx context.Context) error {
	if err := t.transition(StatusRollingBack, StatusActive, StatusSuspended); err != nil {
		return err
	}
	defer t.coord.unregister(t)

	ctx, span := t.manager.spans.StartTransactionSpan(ctx, t.id)
	n := len(t.Holders())
	err := t.manager.resources.Rollback(ctx, t.id)
	t.manager.spans.EndSpanWithError(span, err)

	outcome := "rolled_back"
	if err != nil {
		outcome = "failed"
	}
	t.complete(ctx, StatusRolledBack, outcome, n, err)
	return err
}

func (t *XATransaction) complete(ctx context.Context, st Status, outcome string, resources int, err error) {
	t.setStatus(st)
	t.manager.metrics.RecordTransaction(ctx, outcome, resources)
	if err != nil {
		observability.LogTransactionError(t.manager.logger, t.id, outcome, err)
	} else {
		observability.LogTransactionComplete(t.manager.logger, t.id, outcome, resources)
	}
	t.manager.journalStatus(ctx, t, st, resources, err)
}

// Suspend suspends the work of every enlisted resource.
func (t *XATransaction) Suspend(ctx context.Context) error {
	if err := t.transition(StatusSuspended, StatusActive); err != nil {
		return err
	}
	return t.manager.resources.Suspend(ctx, t.id)
}

// Resume resumes a suspended transaction.
func (t *XATransaction) Resume(ctx context.Context) error {
	if err := t.transition(StatusActive, StatusSuspended); err != nil {
		return err
	}
	return t.manager.resources.Resume(ctx, t.id)
}

// Age returns how long the transaction has been running.
func (t *XATransaction) Age() time.Duration {
	return t.manager.clock.Since(t.started)
}
