package transaction

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// XAFormatID is the format id stamped on every Xid issued here.
const XAFormatID = 0x464c4f57

// HolderState is the state of one enlisted resource.
type HolderState string

// Holder states.
const (
	HolderActive    HolderState = "active"
	HolderSuspended HolderState = "suspended"
	HolderEnded     HolderState = "ended"
	HolderPrepared  HolderState = "prepared"
)

// Holder records the enlistment of a resource in a transaction.
type Holder struct {
	TxID       string
	Resource   XAResource
	Xid        Xid
	State      HolderState
	EnlistedAt time.Time
}

// ResourceManager enlists XA resources in transactions and drives their
// completion. Holders are keyed by transaction id and resource instance.
type ResourceManager struct {
	mu      sync.Mutex
	holders map[string]map[XAResource]*Holder
	order   map[string][]XAResource
	pending map[enlistKey]chan struct{}
	logger  *slog.Logger
}

type enlistKey struct {
	txID string
	res  XAResource
}

// NewResourceManager creates an empty resource manager.
func NewResourceManager(logger *slog.Logger) *ResourceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceManager{
		holders: make(map[string]map[XAResource]*Holder),
		order:   make(map[string][]XAResource),
		pending: make(map[enlistKey]chan struct{}),
		logger:  logger,
	}
}

// Enlist starts res in transaction txID. Enlisting a resource twice returns
// the existing holder; concurrent enlistments of the same resource wait for
// the first one and start the branch once.
func (m *ResourceManager) Enlist(ctx context.Context, txID string, res XAResource) (*Holder, error) {
	if res == nil {
		return nil, errors.New("enlist nil resource")
	}
	key := enlistKey{txID: txID, res: res}

	m.mu.Lock()
	for {
		if h, ok := m.holders[txID][res]; ok {
			m.mu.Unlock()
			return h, nil
		}
		wait, busy := m.pending[key]
		if !busy {
			break
		}
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}
	done := make(chan struct{})
	m.pending[key] = done
	m.mu.Unlock()

	h := &Holder{
		TxID:     txID,
		Resource: res,
		Xid: Xid{
			FormatID: XAFormatID,
			GlobalID: txID,
			BranchID: uuid.New().String(),
		},
		State:      HolderActive,
		EnlistedAt: time.Now(),
	}
	err := res.Start(ctx, h.Xid, TMNoFlags)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	close(done)
	if err != nil {
		return nil, &XAError{Xid: h.Xid, Op: "start", Err: err}
	}
	if m.holders[txID] == nil {
		m.holders[txID] = make(map[XAResource]*Holder)
	}
	m.holders[txID][res] = h
	m.order[txID] = append(m.order[txID], res)

	m.logger.Debug("resource enlisted",
		slog.String("tx_id", txID),
		slog.String("xid", h.Xid.String()),
	)
	return h, nil
}

// Delist ends the work of res in txID. The holder stays until completion.
func (m *ResourceManager) Delist(ctx context.Context, txID string, res XAResource, success bool) error {
	h, ok := m.HolderFor(txID, res)
	if !ok {
		return ErrNotActive
	}
	flags := TMSuccess
	if !success {
		flags = TMFail
	}
	return m.end(ctx, h, flags)
}

func (m *ResourceManager) end(ctx context.Context, h *Holder, flags Flags) error {
	m.mu.Lock()
	if h.State == HolderEnded || h.State == HolderPrepared {
		m.mu.Unlock()
		return nil
	}
	suspended := h.State == HolderSuspended
	m.mu.Unlock()

	if suspended {
		if err := h.Resource.Start(ctx, h.Xid, TMResume); err != nil {
			return &XAError{Xid: h.Xid, Op: "resume", Err: err}
		}
	}
	if err := h.Resource.End(ctx, h.Xid, flags); err != nil {
		return &XAError{Xid: h.Xid, Op: "end", Err: err}
	}
	m.setState(h, HolderEnded)
	return nil
}

// Suspend suspends every active holder of txID.
func (m *ResourceManager) Suspend(ctx context.Context, txID string) error {
	var errs []error
	for _, h := range m.Holders(txID) {
		if m.state(h) != HolderActive {
			continue
		}
		if err := h.Resource.End(ctx, h.Xid, TMSuspend); err != nil {
			errs = append(errs, &XAError{Xid: h.Xid, Op: "suspend", Err: err})
			continue
		}
		m.setState(h, HolderSuspended)
	}
	return errors.Join(errs...)
}

// Resume resumes every suspended holder of txID.
func (m *ResourceManager) Resume(ctx context.Context, txID string) error {
	var errs []error
	for _, h := range m.Holders(txID) {
		if m.state(h) != HolderSuspended {
			continue
		}
		if err := h.Resource.Start(ctx, h.Xid, TMResume); err != nil {
			errs = append(errs, &XAError{Xid: h.Xid, Op: "resume", Err: err})
			continue
		}
		m.setState(h, HolderActive)
	}
	return errors.Join(errs...)
}

// Commit completes txID. A single resource is committed in one phase;
// several are prepared first and any failed prepare rolls all of them
// back, returning a *RollbackError. Every holder of txID is removed.
func (m *ResourceManager) Commit(ctx context.Context, txID string) error {
	defer m.release(txID)
	holders := m.Holders(txID)

	for _, h := range holders {
		if err := m.end(ctx, h, TMSuccess); err != nil {
			return &RollbackError{TxID: txID, Err: errors.Join(err, m.rollbackAll(ctx, holders))}
		}
	}

	if len(holders) == 1 {
		h := holders[0]
		if err := h.Resource.Commit(ctx, h.Xid, true); err != nil {
			return &XAError{Xid: h.Xid, Op: "commit", Err: err}
		}
		return nil
	}

	var toCommit []*Holder
	for _, h := range holders {
		vote, err := h.Resource.Prepare(ctx, h.Xid)
		if err != nil {
			prepErr := &XAError{Xid: h.Xid, Op: "prepare", Err: err}
			return &RollbackError{TxID: txID, Err: errors.Join(prepErr, m.rollbackAll(ctx, holders))}
		}
		m.setState(h, HolderPrepared)
		if vote == VoteCommit {
			toCommit = append(toCommit, h)
		}
	}

	var errs []error
	for _, h := range toCommit {
		if err := h.Resource.Commit(ctx, h.Xid, false); err != nil {
			errs = append(errs, &XAError{Xid: h.Xid, Op: "commit", Err: err})
		}
	}
	return errors.Join(errs...)
}

// Rollback rolls back every resource of txID in reverse enlistment order
// and removes all of its holders.
func (m *ResourceManager) Rollback(ctx context.Context, txID string) error {
	defer m.release(txID)
	holders := m.Holders(txID)

	var errs []error
	for _, h := range holders {
		if err := m.end(ctx, h, TMFail); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.rollbackAll(ctx, holders); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *ResourceManager) rollbackAll(ctx context.Context, holders []*Holder) error {
	var errs []error
	for _, h := range slices.Backward(holders) {
		if err := h.Resource.Rollback(ctx, h.Xid); err != nil {
			errs = append(errs, &XAError{Xid: h.Xid, Op: "rollback", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m *ResourceManager) release(txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders, txID)
	delete(m.order, txID)
}

func (m *ResourceManager) state(h *Holder) HolderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return h.State
}

func (m *ResourceManager) setState(h *Holder, s HolderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.State = s
}

// HolderFor returns the holder of res in txID.
func (m *ResourceManager) HolderFor(txID string, res XAResource) (*Holder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holders[txID][res]
	return h, ok
}

// Holders returns the holders of txID in enlistment order.
func (m *ResourceManager) Holders(txID string) []*Holder {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := m.order[txID]
	out := make([]*Holder, 0, len(order))
	for _, res := range order {
		out = append(out, m.holders[txID][res])
	}
	return out
}

// ActiveCount returns the number of transactions that still hold resources.
func (m *ResourceManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holders)
}
