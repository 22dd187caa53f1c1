package benchmarks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/queue"
	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

func startQueues(b *testing.B, opts ...queue.Option) *queue.Manager {
	b.Helper()
	mgr := queue.NewManager(opts...)
	if err := mgr.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = mgr.Stop(context.Background()) })
	return mgr
}

func createSQLiteStore(b *testing.B) *queue.SQLiteStore {
	b.Helper()
	store, err := queue.NewSQLiteStore(filepath.Join(b.TempDir(), "queues.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

// BenchmarkQueue_PutTake_Memory measures an untransacted put/take pair.
func BenchmarkQueue_PutTake_Memory(b *testing.B) {
	ctx := context.Background()
	q := startQueues(b).Session().Queue("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Put(ctx, i)
		_, _ = q.Take(ctx)
	}
}

// BenchmarkQueue_PutTake_SQLite measures a persisted put/take pair.
func BenchmarkQueue_PutTake_SQLite(b *testing.B) {
	ctx := context.Background()
	q := startQueues(b, queue.WithStore(createSQLiteStore(b))).Session().Queue("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Put(ctx, i)
		_, _ = q.Take(ctx)
	}
}

// BenchmarkQueue_PutEvent_SQLite measures persisting events.
func BenchmarkQueue_PutEvent_SQLite(b *testing.B) {
	ctx := context.Background()
	mgr := startQueues(b, queue.WithStore(createSQLiteStore(b)), queue.WithCodec(queue.EventCodec{}))
	q := mgr.Session().Queue("events")
	evt := message.New(map[string]any{"order": "o-1", "amount": 42.5},
		message.WithCorrelationID("batch-1"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Put(ctx, evt)
	}
}

// BenchmarkQueue_SessionCommit measures a local queue transaction.
func BenchmarkQueue_SessionCommit(b *testing.B) {
	ctx := context.Background()
	s := startQueues(b).Session()
	q := s.Queue("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Begin(ctx)
		_ = q.Put(ctx, i)
		_ = s.Commit(ctx)
		_, _ = q.Take(ctx)
	}
}

// BenchmarkQueue_XACommit measures two sessions committed by two-phase commit.
func BenchmarkQueue_XACommit(b *testing.B) {
	ctx := context.Background()
	mgr := startQueues(b)
	tm := transaction.NewManager()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx, err := tm.Begin(ctx)
		if err != nil {
			b.Fatal(err)
		}
		txCtx := transaction.WithTransaction(ctx, tx)
		s1, s2 := mgr.Session(), mgr.Session()
		_ = s1.JoinTransaction(txCtx)
		_ = s2.JoinTransaction(txCtx)
		_ = s1.Queue("a").Put(ctx, i)
		_ = s2.Queue("b").Put(ctx, i)
		if err := tx.Commit(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
