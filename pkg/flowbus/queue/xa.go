package queue

import (
	"context"
	"errors"

	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

// xaSession exposes a Session as a transaction.XAResource.
type xaSession struct {
	session *Session
}

func (x *xaSession) Start(ctx context.Context, _ transaction.Xid, flags transaction.Flags) error {
	if flags&(transaction.TMJoin|transaction.TMResume) != 0 {
		return nil
	}
	return x.session.Begin(ctx)
}

func (x *xaSession) End(context.Context, transaction.Xid, transaction.Flags) error {
	return nil
}

// Prepare votes read-only, and completes the branch, when the session
// changed nothing.
func (x *xaSession) Prepare(ctx context.Context, _ transaction.Xid) (transaction.Vote, error) {
	s := x.session
	s.mu.Lock()
	if s.tx == nil {
		s.mu.Unlock()
		return 0, ErrNoTransaction
	}
	readOnly := s.tx.empty()
	s.mu.Unlock()

	if readOnly {
		return transaction.VoteReadOnly, s.Commit(ctx)
	}
	return transaction.VoteCommit, nil
}

func (x *xaSession) Commit(ctx context.Context, _ transaction.Xid, _ bool) error {
	if err := x.session.Commit(ctx); err != nil && !errors.Is(err, ErrNoTransaction) {
		return err
	}
	return nil
}

func (x *xaSession) Rollback(ctx context.Context, _ transaction.Xid) error {
	if err := x.session.Rollback(ctx); err != nil && !errors.Is(err, ErrNoTransaction) {
		return err
	}
	return nil
}

var (
	_ transaction.XAResource    = (*xaSession)(nil)
	_ transaction.LocalResource = (*Session)(nil)
)
