package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transaction is a unit of work spanning one or more resources.
type Transaction interface {
	ID() string
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// SetRollbackOnly marks the transaction so that it can only roll back.
	SetRollbackOnly()
	IsRollbackOnly() bool

	Status() Status
	IsXA() bool

	// Suspend detaches the transaction from its resources so that work can
	// run outside it; Resume reattaches them.
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error

	// BindResource associates a resource with key for the lifetime of the
	// transaction.
	BindResource(key, resource any) error
	Resource(key any) (any, bool)
	HasResource(key any) bool
}

// Factory begins transactions.
type Factory interface {
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Transaction, error)

// BeginTransaction calls f.
func (f FactoryFunc) BeginTransaction(ctx context.Context) (Transaction, error) {
	return f(ctx)
}

type ctxKey struct{}

// WithTransaction returns a context carrying tx. A nil tx hides any
// transaction carried by ctx.
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// FromContext returns the transaction carried by ctx, or nil.
func FromContext(ctx context.Context) Transaction {
	tx, _ := ctx.Value(ctxKey{}).(Transaction)
	return tx
}

// Coordination tracks the transactions that are currently active.
type Coordination struct {
	mu     sync.RWMutex
	active map[string]Transaction
}

// NewCoordination creates an empty registry.
func NewCoordination() *Coordination {
	return &Coordination{active: make(map[string]Transaction)}
}

func (c *Coordination) register(tx Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[tx.ID()] = tx
}

func (c *Coordination) unregister(tx Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, tx.ID())
}

// Get returns the active transaction with the given id.
func (c *Coordination) Get(id string) (Transaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.active[id]
	return tx, ok
}

// Active returns every active transaction.
func (c *Coordination) Active() []Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Transaction, 0, len(c.active))
	for _, tx := range c.active {
		out = append(out, tx)
	}
	return out
}

// Len returns the number of active transactions.
func (c *Coordination) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// state is the bookkeeping shared by every transaction kind.
type state struct {
	id      string
	coord   *Coordination
	started time.Time

	mu           sync.Mutex
	status       Status
	rollbackOnly bool
	resources    map[any]any
}

func (s *state) init(coord *Coordination) {
	if coord == nil {
		coord = NewCoordination()
	}
	s.id = uuid.New().String()
	s.coord = coord
	s.status = StatusNoTransaction
	s.resources = make(map[any]any)
}

// ID returns the transaction id.
func (s *state) ID() string { return s.id }

// Status returns the current status.
func (s *state) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rollbackOnly && s.status == StatusActive {
		return StatusMarkedRollback
	}
	return s.status
}

// SetRollbackOnly marks the transaction for rollback.
func (s *state) SetRollbackOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackOnly = true
}

// IsRollbackOnly reports whether the transaction can only roll back.
func (s *state) IsRollbackOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackOnly
}

// Resource returns the resource bound to key.
func (s *state) Resource(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[key]
	return r, ok
}

// HasResource reports whether a resource is bound to key.
func (s *state) HasResource(key any) bool {
	_, ok := s.Resource(key)
	return ok
}

// transition moves from one of the allowed states to next.
func (s *state) transition(next Status, allowed ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range allowed {
		if s.status == a {
			s.status = next
			return nil
		}
	}
	if s.status.Completed() {
		return ErrNotActive
	}
	return ErrIllegalTransactionState
}

func (s *state) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *state) resourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources)
}
