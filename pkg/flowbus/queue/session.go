package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

// Session is a view of the queues of a Manager with its own transaction.
// A session is meant for one flow at a time.
type Session struct {
	mgr *Manager
	xa  *xaSession

	mu sync.Mutex
	tx *sessionTx
}

type taken struct {
	q *queueState
	e entry
}

type sessionTx struct {
	puts    map[string][]any
	untakes map[string][]any
	takes   []taken
}

func newSessionTx() *sessionTx {
	return &sessionTx{
		puts:    make(map[string][]any),
		untakes: make(map[string][]any),
	}
}

func (t *sessionTx) empty() bool {
	return len(t.puts) == 0 && len(t.untakes) == 0 && len(t.takes) == 0
}

// Queue returns a handle on the named queue bound to this session.
func (s *Session) Queue(name string) *Queue {
	return &Queue{session: s, name: name}
}

// Begin starts a transaction.
func (s *Session) Begin(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionActive
	}
	s.tx = newSessionTx()
	return nil
}

// InTransaction reports whether a transaction is active.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Commit publishes the puts and untakes of the transaction and makes its
// takes permanent. It fails with ErrNotStarted, leaving the transaction
// active, when the manager is stopped. Items that could not be published
// stay in the transaction so the caller can retry or roll back.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	if tx == nil {
		return ErrNoTransaction
	}

	states := make(map[string]*queueState, len(tx.puts)+len(tx.untakes))
	for _, pending := range []map[string][]any{tx.untakes, tx.puts} {
		for name := range pending {
			q, _, err := s.mgr.queue(name)
			if err != nil {
				return err
			}
			states[name] = q
		}
	}
	s.tx = nil

	var errs []error
	for _, t := range tx.takes {
		t.q.mu.Lock()
		if err := s.mgr.forget(t.q, t.e); err != nil {
			errs = append(errs, err)
		}
		t.q.mu.Unlock()
	}

	rest := newSessionTx()
	for name, items := range tx.untakes {
		if n, err := s.publish(ctx, states[name], items, true); err != nil {
			errs = append(errs, err)
			rest.untakes[name] = items[n:]
		}
	}
	for name, items := range tx.puts {
		if n, err := s.publish(ctx, states[name], items, false); err != nil {
			errs = append(errs, err)
			rest.puts[name] = items[n:]
		}
	}
	if !rest.empty() {
		s.tx = rest
	}
	return errors.Join(errs...)
}

// publish inserts items into q and returns how many were inserted.
func (s *Session) publish(ctx context.Context, q *queueState, items []any, front bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range items {
		if err := s.mgr.insert(ctx, q, item, front); err != nil {
			return i, err
		}
	}
	return len(items), nil
}

// Rollback discards the puts and untakes of the transaction and returns
// the items it took to the head of their queues.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.tx
	if tx == nil {
		return ErrNoTransaction
	}
	s.tx = nil

	var errs []error
	for _, t := range slices.Backward(tx.takes) {
		t.q.mu.Lock()
		if err := s.mgr.forget(t.q, t.e); err != nil {
			errs = append(errs, err)
		}
		if err := s.mgr.insert(ctx, t.q, t.e.item, true); err != nil {
			errs = append(errs, err)
		}
		t.q.mu.Unlock()
	}
	return errors.Join(errs...)
}

// JoinTransaction enlists the session in the transaction carried by ctx:
// an XA transaction enlists it as a resource, a local one binds it.
func (s *Session) JoinTransaction(ctx context.Context) error {
	switch tx := transaction.FromContext(ctx).(type) {
	case nil:
		return nil
	case *transaction.XATransaction:
		return tx.Enlist(ctx, s.xa)
	default:
		return tx.BindResource(s.mgr, s)
	}
}

// XAResource returns the session as an XA resource.
func (s *Session) XAResource() transaction.XAResource { return s.xa }

// Queue is a session's handle on one named queue.
type Queue struct {
	session *Session
	name    string
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Put appends item, blocking while the queue is full. Inside a transaction
// the item stays private to the session until commit and Put never blocks.
func (q *Queue) Put(ctx context.Context, item any) error {
	_, err := q.offer(ctx, item, -1)
	return err
}

// Offer appends item, waiting at most timeout for room. It reports whether
// the item was accepted.
func (q *Queue) Offer(ctx context.Context, item any, timeout time.Duration) (bool, error) {
	return q.offer(ctx, item, timeout)
}

// offer waits forever for a negative timeout.
func (q *Queue) offer(ctx context.Context, item any, timeout time.Duration) (bool, error) {
	if item == nil {
		return false, ErrNilItem
	}
	s := q.session
	state, done, err := s.mgr.queue(q.name)
	if err != nil {
		return false, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := s.mgr.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	for {
		s.mu.Lock()
		if s.tx != nil {
			s.tx.puts[q.name] = append(s.tx.puts[q.name], item)
			s.mu.Unlock()
			return true, nil
		}
		state.mu.Lock()
		if !state.full() {
			err := s.mgr.insert(ctx, state, item, false)
			state.mu.Unlock()
			s.mu.Unlock()
			return err == nil, err
		}
		changed := state.changed
		state.mu.Unlock()
		s.mu.Unlock()

		if timeout == 0 {
			return false, nil
		}
		select {
		case <-changed:
		case <-expired:
			return false, nil
		case <-done:
			return false, ErrNotStarted
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Take removes and returns the head item, blocking while the queue is empty.
func (q *Queue) Take(ctx context.Context) (any, error) {
	return q.poll(ctx, -1)
}

// Poll removes and returns the head item, waiting at most timeout for one.
// It returns nil when the wait times out.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (any, error) {
	return q.poll(ctx, timeout)
}

func (q *Queue) poll(ctx context.Context, timeout time.Duration) (any, error) {
	s := q.session
	state, done, err := s.mgr.queue(q.name)
	if err != nil {
		return nil, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := s.mgr.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	for {
		item, ok, err := q.takeOnce(ctx, state)
		if ok || err != nil {
			return item, err
		}

		state.mu.Lock()
		changed := state.changed
		empty := len(state.items) == 0
		state.mu.Unlock()
		if !empty {
			continue
		}
		if timeout == 0 {
			return nil, nil
		}
		select {
		case <-changed:
		case <-expired:
			return nil, nil
		case <-done:
			return nil, ErrNotStarted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Queue) takeOnce(ctx context.Context, state *queueState) (any, bool, error) {
	s := q.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		if untakes := s.tx.untakes[q.name]; len(untakes) > 0 {
			item := untakes[len(untakes)-1]
			s.tx.untakes[q.name] = untakes[:len(untakes)-1]
			return item, true, nil
		}
	}

	state.mu.Lock()
	e, ok := state.popFront()
	if ok {
		if s.tx != nil {
			s.tx.takes = append(s.tx.takes, taken{q: state, e: e})
		} else if err := s.mgr.forget(state, e); err != nil {
			state.insert(e, true)
			state.mu.Unlock()
			return nil, false, err
		}
		s.mgr.metrics.RecordQueueDepth(ctx, q.name, int64(len(state.items)))
		state.mu.Unlock()
		return e.item, true, nil
	}
	state.mu.Unlock()

	if s.tx != nil {
		if puts := s.tx.puts[q.name]; len(puts) > 0 {
			s.tx.puts[q.name] = puts[1:]
			return puts[0], true, nil
		}
	}
	return nil, false, nil
}

// Peek returns the head item without removing it, or nil.
func (q *Queue) Peek() any {
	s := q.session
	state, _, err := s.mgr.queue(q.name)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		if untakes := s.tx.untakes[q.name]; len(untakes) > 0 {
			return untakes[len(untakes)-1]
		}
	}
	state.mu.Lock()
	if len(state.items) > 0 {
		item := state.items[0].item
		state.mu.Unlock()
		return item
	}
	state.mu.Unlock()
	if s.tx != nil {
		if puts := s.tx.puts[q.name]; len(puts) > 0 {
			return puts[0]
		}
	}
	return nil
}

// Untake returns item to the head of the queue.
func (q *Queue) Untake(ctx context.Context, item any) error {
	if item == nil {
		return ErrNilItem
	}
	s := q.session
	state, _, err := s.mgr.queue(q.name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		s.tx.untakes[q.name] = append(s.tx.untakes[q.name], item)
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return s.mgr.insert(ctx, state, item, true)
}

// Size returns the number of items visible to the session: the shared
// items plus the session's uncommitted puts and untakes.
func (q *Queue) Size() int {
	s := q.session
	state, _, err := s.mgr.queue(q.name)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state.mu.Lock()
	n := len(state.items)
	state.mu.Unlock()
	if s.tx != nil {
		n += len(s.tx.puts[q.name]) + len(s.tx.untakes[q.name])
	}
	return n
}
