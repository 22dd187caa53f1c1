// Package queue provides transactional in-process queues.
//
// A Manager owns named queues. Work happens through a Session: outside a
// transaction every operation takes effect immediately; between Begin and
// Commit the puts and untakes of a session stay private to it, and items it
// takes are restored to the head of their queue if it rolls back.
//
// With a persistent Store, queue contents survive a cold restart: a new
// Manager over the same store restores every queue in order when started.
//
//	mgr := queue.NewManager(queue.WithStore(store))
//	if err := mgr.Start(ctx); err != nil { ... }
//	defer mgr.Stop(ctx)
//
//	s := mgr.Session()
//	q := s.Queue("orders")
//	_ = s.Begin(ctx)
//	_ = q.Put(ctx, evt)
//	_ = s.Commit(ctx)
package queue

import (
	"errors"
	"time"
)

// Store persists queue items.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores an item of queue at position seq.
	// Overwrites an item already stored at that position.
	Put(queue string, seq int64, data []byte) error

	// Remove deletes the item of queue at position seq.
	// Returns nil if there is no such item.
	Remove(queue string, seq int64) error

	// Load returns every item of queue ordered by position.
	// Returns an empty slice (not error) for an unknown queue.
	Load(queue string) ([]Record, error)

	// Queues returns the names of all queues holding items.
	Queues() ([]string, error)

	// Clear removes every item of queue.
	Clear(queue string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Record is one persisted queue item.
type Record struct {
	Queue      string
	Seq        int64
	Data       []byte
	EnqueuedAt time.Time
}

// Sentinel errors for queue operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("queue store closed")

	// ErrNotStarted is returned by queue operations while the manager is
	// stopped.
	ErrNotStarted = errors.New("queue manager not started")

	// ErrNoTransaction is returned by Commit and Rollback outside a
	// transaction.
	ErrNoTransaction = errors.New("session has no transaction")

	// ErrTransactionActive is returned by Begin inside a transaction.
	ErrTransactionActive = errors.New("session transaction already active")

	// ErrNilItem is returned when a nil item is queued.
	ErrNilItem = errors.New("queue item is nil")
)
