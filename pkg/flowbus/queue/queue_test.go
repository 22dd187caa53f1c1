package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/queue"
	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

func startManager(t *testing.T, opts ...queue.Option) *queue.Manager {
	t.Helper()
	mgr := queue.NewManager(opts...)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { _ = mgr.Stop(context.Background()) })
	return mgr
}

func TestPutTake(t *testing.T) {
	ctx := context.Background()
	q := startManager(t).Session().Queue("queue1")

	assert.Equal(t, 0, q.Size())
	require.NoError(t, q.Put(ctx, "String1"))
	assert.Equal(t, 1, q.Size())

	o, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "String1", o)
	assert.Equal(t, 0, q.Size())
}

func TestTakeBlocksUntilPut(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	q := mgr.Session().Queue("queue1")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = mgr.Session().Queue("queue1").Put(ctx, "String1")
	}()

	start := time.Now()
	o, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "String1", o)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestUntakeReturnsToHead(t *testing.T) {
	ctx := context.Background()
	q := startManager(t).Session().Queue("queue1")
	require.NoError(t, q.Put(ctx, "String1"))
	require.NoError(t, q.Put(ctx, "String2"))

	o, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Size())

	require.NoError(t, q.Untake(ctx, o))
	assert.Equal(t, 2, q.Size())

	o, err = q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "String1", o)
}

func TestTransactedPutRollbackThenCommit(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	s := mgr.Session()
	q := s.Queue("queue1")
	other := mgr.Session().Queue("queue1")

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Put(ctx, "String1"))
	assert.Equal(t, 1, q.Size())
	assert.Equal(t, 0, other.Size(), "uncommitted put is private")
	require.NoError(t, s.Rollback(ctx))
	assert.Equal(t, 0, q.Size())

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Put(ctx, "String2"))
	require.NoError(t, s.Commit(ctx))

	o, err := other.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "String2", o)
}

func TestPutTakeUntakeRollbackUntake(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	s := mgr.Session()
	q := s.Queue("queue1")

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Put(ctx, "object1"))
	require.NoError(t, q.Put(ctx, "object2"))
	_, err := q.Take(ctx)
	require.NoError(t, err)
	_, err = q.Take(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, 0, q.Size())

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Untake(ctx, "object1"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Untake(ctx, "object2"))
	require.NoError(t, s.Rollback(ctx))

	o, err := mgr.Session().Queue("queue1").Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "object1", o)
	assert.Equal(t, 0, q.Size())
}

func TestPutBlocksOverCapacity(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	mgr.SetDefaultConfig(queue.Config{Capacity: 2})
	q := mgr.Session().Queue("queue1")

	require.NoError(t, q.Put(ctx, "String1"))
	require.NoError(t, q.Put(ctx, "String2"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		o, err := mgr.Session().Queue("queue1").Take(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "String1", o)
	}()

	start := time.Now()
	require.NoError(t, q.Put(ctx, "String3"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 2, q.Size())
}

func TestTransactionsOnMultipleQueues(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	s1, s2 := mgr.Session(), mgr.Session()
	q1s1, q1s2 := s1.Queue("queue1"), s2.Queue("queue1")
	q2s1, q2s2 := s1.Queue("queue2"), s2.Queue("queue2")

	require.NoError(t, q1s1.Put(ctx, "String1"))
	assert.Equal(t, 1, q1s2.Size())

	require.NoError(t, s1.Begin(ctx))
	o, err := q1s1.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "String1", o)
	assert.Equal(t, 0, q1s1.Size())
	assert.Equal(t, 0, q1s2.Size())
	require.NoError(t, q2s1.Put(ctx, "String2"))
	assert.Equal(t, 1, q2s1.Size())
	assert.Equal(t, 0, q2s2.Size())
	require.NoError(t, s1.Commit(ctx))

	assert.Equal(t, 0, q1s2.Size())
	assert.Equal(t, 1, q2s2.Size())

	require.NoError(t, s1.Begin(ctx))
	o, err = q2s1.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "String2", o)
	require.NoError(t, q1s1.Put(ctx, "String1"))
	assert.Equal(t, 1, q1s1.Size())
	assert.Equal(t, 0, q1s2.Size())
	assert.Equal(t, 0, q2s2.Size())
	require.NoError(t, s1.Rollback(ctx))

	assert.Equal(t, 0, q1s1.Size())
	assert.Equal(t, 0, q1s2.Size())
	assert.Equal(t, 1, q2s1.Size())
	assert.Equal(t, 1, q2s2.Size())
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	q := mgr.Session().Queue("queue1")

	o, err := q.Poll(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, o)

	o, err = q.Poll(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, o)

	require.NoError(t, q.Put(ctx, "String1"))
	o, err = q.Poll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "String1", o)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = mgr.Session().Queue("queue1").Put(ctx, "String2")
	}()
	o, err = q.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "String2", o)
	assert.Equal(t, 0, q.Size())
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	q := startManager(t).Session().Queue("queue1")

	assert.Nil(t, q.Peek())
	require.NoError(t, q.Put(ctx, "String1"))
	assert.Equal(t, "String1", q.Peek())
	assert.Equal(t, 1, q.Size())
}

func TestOffer(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	mgr.SetQueueConfig("queue1", queue.Config{Capacity: 1})
	q := mgr.Session().Queue("queue1")

	ok, err := q.Offer(ctx, "String1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Offer(ctx, "String2", 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Size())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = mgr.Session().Queue("queue1").Take(ctx)
	}()
	ok, err = q.Offer(ctx, "String2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, q.Size())
}

func TestNilItemRejected(t *testing.T) {
	q := startManager(t).Session().Queue("queue1")
	assert.ErrorIs(t, q.Put(context.Background(), nil), queue.ErrNilItem)
}

func TestOperationsRequireStart(t *testing.T) {
	ctx := context.Background()
	mgr := queue.NewManager()
	q := mgr.Session().Queue("queue1")
	assert.ErrorIs(t, q.Put(ctx, "x"), queue.ErrNotStarted)

	require.NoError(t, mgr.Start(ctx))
	errs := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mgr.Stop(ctx))
	assert.ErrorIs(t, <-errs, queue.ErrNotStarted)
}

func TestSessionTransactionState(t *testing.T) {
	ctx := context.Background()
	s := startManager(t).Session()

	assert.ErrorIs(t, s.Commit(ctx), queue.ErrNoTransaction)
	assert.ErrorIs(t, s.Rollback(ctx), queue.ErrNoTransaction)
	require.NoError(t, s.Begin(ctx))
	assert.True(t, s.InTransaction())
	assert.ErrorIs(t, s.Begin(ctx), queue.ErrTransactionActive)
}

func TestCommitAfterStopKeepsTransaction(t *testing.T) {
	ctx := context.Background()
	mgr := queue.NewManager(queue.WithStore(queue.NewMemoryStore()))
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(func() { _ = mgr.Stop(ctx) })

	s := mgr.Session()
	q := s.Queue("queue1")
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Put(ctx, "String1"))

	require.NoError(t, mgr.Stop(ctx))
	assert.ErrorIs(t, s.Commit(ctx), queue.ErrNotStarted)
	assert.True(t, s.InTransaction(), "transaction stays active after a failed commit")

	require.NoError(t, mgr.Start(ctx))
	require.NoError(t, s.Commit(ctx))
	assert.False(t, s.InTransaction())

	o, err := mgr.Session().Queue("queue1").Poll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "String1", o)
}

func TestRollbackAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	mgr := queue.NewManager()
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(func() { _ = mgr.Stop(ctx) })

	s := mgr.Session()
	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Queue("queue1").Put(ctx, "String1"))

	require.NoError(t, mgr.Stop(ctx))
	require.ErrorIs(t, s.Commit(ctx), queue.ErrNotStarted)
	require.NoError(t, s.Rollback(ctx))
	assert.False(t, s.InTransaction())

	require.NoError(t, mgr.Start(ctx))
	assert.Equal(t, 0, mgr.Session().Queue("queue1").Size())
}

func TestRecoverWarmRestart(t *testing.T) {
	ctx := context.Background()
	mgr := queue.NewManager()
	require.NoError(t, mgr.Start(ctx))
	q := mgr.Session().Queue("warmRecoverQueue")
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Put(ctx, i))
	}

	require.NoError(t, mgr.Stop(ctx))
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop(ctx)
	assert.Equal(t, 50, q.Size())
}

func TestRecoverColdRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queues.db")

	store, err := queue.NewSQLiteStore(path)
	require.NoError(t, err)
	mgr := queue.NewManager(queue.WithStore(store))
	require.NoError(t, mgr.Start(ctx))
	s := mgr.Session()
	q := s.Queue("coldRecoverQueue")
	for i := 1; i <= 10; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	_, err = q.Take(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Untake(ctx, 0))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, q.Put(ctx, "uncommitted"))
	require.NoError(t, s.Rollback(ctx))

	require.NoError(t, mgr.Stop(ctx))
	require.NoError(t, store.Close())

	store, err = queue.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	restarted := queue.NewManager(queue.WithStore(store))
	require.NoError(t, restarted.Start(ctx))
	defer restarted.Stop(ctx)

	rq := restarted.Session().Queue("coldRecoverQueue")
	require.Equal(t, 10, rq.Size())
	var got []any
	for rq.Size() > 0 {
		o, err := rq.Take(ctx)
		require.NoError(t, err)
		got = append(got, o)
	}
	// JSON restores numbers as float64.
	assert.Equal(t, []any{0.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0}, got)
}

func TestColdRestartWithoutStoreStartsEmpty(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	require.NoError(t, mgr.Session().Queue("q").Put(ctx, "x"))

	fresh := startManager(t)
	assert.Equal(t, 0, fresh.Session().Queue("q").Size())
}

func TestEventCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	mgr := queue.NewManager(queue.WithStore(store), queue.WithCodec(queue.EventCodec{}))
	require.NoError(t, mgr.Start(ctx))

	evt := message.New("order-1", message.WithCorrelationID("batch-7"))
	require.NoError(t, mgr.Session().Queue("events").Put(ctx, evt))
	require.NoError(t, mgr.Stop(ctx))

	restarted := startManager(t, queue.WithStore(store), queue.WithCodec(queue.EventCodec{}))
	o, err := restarted.Session().Queue("events").Take(ctx)
	require.NoError(t, err)
	got, ok := o.(*message.Event)
	require.True(t, ok)
	assert.Equal(t, evt.ID(), got.ID())
	assert.Equal(t, "batch-7", got.CorrelationID())
	assert.Equal(t, "order-1", got.Payload())
}

func TestSessionInXATransaction(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	tm := transaction.NewManager()
	s1, s2 := mgr.Session(), mgr.Session()

	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := transaction.WithTransaction(ctx, tx)
	require.NoError(t, s1.JoinTransaction(txCtx))
	require.NoError(t, s2.JoinTransaction(txCtx))

	require.NoError(t, s1.Queue("orders").Put(txCtx, "o-1"))
	require.NoError(t, s2.Queue("audit").Put(txCtx, "a-1"))
	observer := mgr.Session()
	assert.Equal(t, 0, observer.Queue("orders").Size())

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, observer.Queue("orders").Size())
	assert.Equal(t, 1, observer.Queue("audit").Size())
	assert.Equal(t, 0, tm.ResourceManager().ActiveCount())
}

func TestSessionXARollback(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	require.NoError(t, mgr.Session().Queue("orders").Put(ctx, "existing"))

	tm := transaction.NewManager()
	tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	s := mgr.Session()
	require.NoError(t, s.JoinTransaction(transaction.WithTransaction(ctx, tx)))

	o, err := s.Queue("orders").Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "existing", o)
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 1, mgr.Session().Queue("orders").Size())
	assert.False(t, s.InTransaction())
}

func TestSessionInLocalTransaction(t *testing.T) {
	ctx := context.Background()
	mgr := startManager(t)
	tx := transaction.NewLocalTransaction(nil)
	require.NoError(t, tx.Begin(ctx))

	s := mgr.Session()
	require.NoError(t, s.JoinTransaction(transaction.WithTransaction(ctx, tx)))
	require.NoError(t, s.Queue("orders").Put(ctx, "o-1"))
	assert.Equal(t, 0, mgr.Session().Queue("orders").Size())

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, mgr.Session().Queue("orders").Size())
}

func TestSessionContext(t *testing.T) {
	_, ok := queue.SessionFromContext(context.Background())
	assert.False(t, ok)

	s := queue.NewManager().Session()
	got, ok := queue.SessionFromContext(queue.WithSession(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
}
