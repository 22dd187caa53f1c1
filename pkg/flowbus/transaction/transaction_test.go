package transaction_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

// callLog records XA calls across resources in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeResource struct {
	name       string
	log        *callLog
	vote       transaction.Vote
	prepareErr error

	mu   sync.Mutex
	xids map[string]bool
}

func newResource(name string, log *callLog) *fakeResource {
	return &fakeResource{name: name, log: log, xids: make(map[string]bool)}
}

func (r *fakeResource) Start(_ context.Context, xid transaction.Xid, flags transaction.Flags) error {
	r.mu.Lock()
	r.xids[xid.GlobalID] = true
	r.mu.Unlock()
	if flags == transaction.TMResume {
		r.log.add(r.name + ".resume")
		return nil
	}
	r.log.add(r.name + ".start")
	return nil
}

func (r *fakeResource) End(_ context.Context, _ transaction.Xid, flags transaction.Flags) error {
	switch flags {
	case transaction.TMSuspend:
		r.log.add(r.name + ".suspend")
	case transaction.TMFail:
		r.log.add(r.name + ".end-fail")
	default:
		r.log.add(r.name + ".end")
	}
	return nil
}

func (r *fakeResource) Prepare(context.Context, transaction.Xid) (transaction.Vote, error) {
	r.log.add(r.name + ".prepare")
	return r.vote, r.prepareErr
}

func (r *fakeResource) Commit(_ context.Context, _ transaction.Xid, onePhase bool) error {
	if onePhase {
		r.log.add(r.name + ".commit-1pc")
		return nil
	}
	r.log.add(r.name + ".commit")
	return nil
}

func (r *fakeResource) Rollback(context.Context, transaction.Xid) error {
	r.log.add(r.name + ".rollback")
	return nil
}

func (r *fakeResource) sawOnly(txID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.xids) == 1 && r.xids[txID]
}

func TestRollback_RemovesHoldersForEveryResource(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}
	a, b := newResource("A", log), newResource("B", log)

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, a))
	require.NoError(t, tx.Enlist(ctx, b))

	rm := tm.ResourceManager()
	_, ok := rm.HolderFor(tx.ID(), a)
	require.True(t, ok)
	_, ok = rm.HolderFor(tx.ID(), b)
	require.True(t, ok)
	assert.Equal(t, 1, rm.ActiveCount())

	require.NoError(t, tx.Rollback(ctx))

	_, ok = rm.HolderFor(tx.ID(), a)
	assert.False(t, ok, "holder for A survived rollback")
	_, ok = rm.HolderFor(tx.ID(), b)
	assert.False(t, ok, "holder for B survived rollback")
	assert.Empty(t, rm.Holders(tx.ID()))
	assert.Equal(t, 0, rm.ActiveCount())
	assert.Equal(t, transaction.StatusRolledBack, tx.Status())
	assert.Equal(t, []string{
		"A.start", "B.start",
		"A.end-fail", "B.end-fail",
		"B.rollback", "A.rollback",
	}, log.all())
}

func TestCommit_TwoPhase(t *testing.T) {
	ctx := context.Background()
	journal := transaction.NewMemoryJournal()
	tm := transaction.NewManager(transaction.WithJournal(journal))
	log := &callLog{}
	a, b := newResource("A", log), newResource("B", log)

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, a))
	require.NoError(t, tx.Enlist(ctx, b))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{
		"A.start", "B.start",
		"A.end", "B.end",
		"A.prepare", "B.prepare",
		"A.commit", "B.commit",
	}, log.all())
	assert.Equal(t, 0, tm.ResourceManager().ActiveCount())
	assert.Equal(t, transaction.StatusCommitted, tx.Status())
	assert.Equal(t, 0, tm.Coordination().Len())

	rec, err := journal.Get(ctx, tx.ID())
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCommitted, rec.Status)
	assert.Equal(t, 2, rec.Resources)
	assert.False(t, rec.FinishedAt.IsZero())
}

func TestCommit_SingleResourceIsOnePhase(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, newResource("A", log)))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{"A.start", "A.end", "A.commit-1pc"}, log.all())
}

func TestCommit_PrepareFailureRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}
	a, b := newResource("A", log), newResource("B", log)
	b.prepareErr = errors.New("disk full")

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, a))
	require.NoError(t, tx.Enlist(ctx, b))

	err = tx.Commit(ctx)
	var rbErr *transaction.RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, tx.ID(), rbErr.TxID)
	assert.ErrorContains(t, err, "disk full")

	calls := log.all()
	assert.Contains(t, calls, "A.rollback")
	assert.Contains(t, calls, "B.rollback")
	assert.NotContains(t, calls, "A.commit")
	assert.Equal(t, transaction.StatusRolledBack, tx.Status())
	assert.Equal(t, 0, tm.ResourceManager().ActiveCount())
}

func TestCommit_ReadOnlyVoteSkipsCommit(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}
	a, b := newResource("A", log), newResource("B", log)
	a.vote = transaction.VoteReadOnly

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, a))
	require.NoError(t, tx.Enlist(ctx, b))
	require.NoError(t, tx.Commit(ctx))

	calls := log.all()
	assert.NotContains(t, calls, "A.commit")
	assert.Contains(t, calls, "B.commit")
}

func TestCommit_RollbackOnly(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, newResource("A", log)))
	tx.SetRollbackOnly()
	assert.Equal(t, transaction.StatusMarkedRollback, tx.Status())

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, transaction.ErrMarkedRollback)
	assert.Equal(t, transaction.StatusRolledBack, tx.Status())
	assert.Contains(t, log.all(), "A.rollback")

	assert.ErrorIs(t, tx.Commit(ctx), transaction.ErrNotActive)
}

func TestEnlist_SameResourceTwice(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}
	a := newResource("A", log)

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, a))
	require.NoError(t, tx.Enlist(ctx, a))

	assert.Len(t, tx.Holders(), 1)
	assert.Equal(t, []string{"A.start"}, log.all())
	assert.True(t, tx.HasResource(a))
}

// slowStart delays Start so concurrent enlistments overlap.
type slowStart struct {
	*fakeResource
	starts atomic.Int32
}

func (r *slowStart) Start(ctx context.Context, xid transaction.Xid, flags transaction.Flags) error {
	r.starts.Add(1)
	time.Sleep(20 * time.Millisecond)
	return r.fakeResource.Start(ctx, xid, flags)
}

func TestEnlist_ConcurrentSameResource(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}
	res := &slowStart{fakeResource: newResource("A", log)}

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tx.Enlist(ctx, res)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), res.starts.Load())
	assert.Len(t, tx.Holders(), 1)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, []string{"A.start", "A.end", "A.commit-1pc"}, log.all())
	assert.Equal(t, 0, tm.ResourceManager().ActiveCount())
}

func TestSuspendResume(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	log := &callLog{}
	a := newResource("A", log)

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(ctx, a))

	require.NoError(t, tx.Suspend(ctx))
	assert.Equal(t, transaction.StatusSuspended, tx.Status())
	h, ok := tm.ResourceManager().HolderFor(tx.ID(), a)
	require.True(t, ok)
	assert.Equal(t, transaction.HolderSuspended, h.State)

	require.NoError(t, tx.Resume(ctx))
	assert.Equal(t, transaction.StatusActive, tx.Status())
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{"A.start", "A.suspend", "A.resume", "A.end", "A.commit-1pc"}, log.all())
}

func TestConcurrentTransactions_DoNotInterfere(t *testing.T) {
	ctx := context.Background()
	tm := transaction.NewManager()
	const n = 25

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log := &callLog{}
			a := newResource(fmt.Sprintf("A%d", i), log)
			b := newResource(fmt.Sprintf("B%d", i), log)

			tx, err := tm.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, tx.Enlist(ctx, a))
			assert.NoError(t, tx.Enlist(ctx, b))
			assert.Len(t, tx.Holders(), 2)

			if i%2 == 0 {
				assert.NoError(t, tx.Commit(ctx))
			} else {
				assert.NoError(t, tx.Rollback(ctx))
			}
			assert.True(t, a.sawOnly(tx.ID()))
			assert.True(t, b.sawOnly(tx.ID()))
			assert.Empty(t, tx.Holders())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, tm.ResourceManager().ActiveCount())
	assert.Equal(t, 0, tm.Coordination().Len())
}

func TestContextBinding(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, transaction.FromContext(ctx))

	tm := transaction.NewManager()
	tx, err := tm.Begin(ctx)
	require.NoError(t, err)

	txCtx := transaction.WithTransaction(ctx, tx)
	assert.Same(t, tx, transaction.FromContext(txCtx))
	assert.Nil(t, transaction.FromContext(transaction.WithTransaction(txCtx, nil)))

	got, ok := tm.Coordination().Get(tx.ID())
	require.True(t, ok)
	assert.Same(t, tx, got)
	require.NoError(t, tx.Rollback(ctx))
	_, ok = tm.Coordination().Get(tx.ID())
	assert.False(t, ok)
}

type localResource struct {
	begun, committed, rolledBack int
}

func (r *localResource) Begin(context.Context) error    { r.begun++; return nil }
func (r *localResource) Commit(context.Context) error   { r.committed++; return nil }
func (r *localResource) Rollback(context.Context) error { r.rolledBack++; return nil }

func TestLocalTransaction(t *testing.T) {
	ctx := context.Background()
	coord := transaction.NewCoordination()

	tx := transaction.NewLocalTransaction(coord)
	require.NoError(t, tx.Begin(ctx))
	assert.False(t, tx.IsXA())
	assert.Equal(t, 1, coord.Len())

	res := &localResource{}
	require.NoError(t, tx.BindResource("queue", res))
	require.NoError(t, tx.BindResource("queue", res))
	assert.ErrorIs(t, tx.BindResource("other", &localResource{}), transaction.ErrResourceBound)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, res.begun)
	assert.Equal(t, 1, res.committed)
	assert.Equal(t, 0, coord.Len())
	assert.ErrorIs(t, tx.Suspend(ctx), transaction.ErrIllegalTransactionState)
}

func TestMemoryJournal_List(t *testing.T) {
	ctx := context.Background()
	j := transaction.NewMemoryJournal()
	require.Error(t, j.Save(ctx, transaction.Record{}))

	tm := transaction.NewManager(transaction.WithJournal(j))
	for i := 0; i < 3; i++ {
		tx, err := tm.Begin(ctx)
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, tx.Rollback(ctx))
		} else {
			require.NoError(t, tx.Commit(ctx))
		}
	}

	committed, err := j.List(ctx, &transaction.ListFilter{Status: transaction.StatusCommitted})
	require.NoError(t, err)
	assert.Len(t, committed, 2)

	page, err := j.List(ctx, &transaction.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	require.NoError(t, j.Delete(ctx, committed[0].TxID))
	_, err = j.Get(ctx, committed[0].TxID)
	assert.ErrorIs(t, err, transaction.ErrRecordNotFound)
}
