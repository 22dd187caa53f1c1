package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalTransactionState is returned when the current transaction
	// state does not allow the requested action.
	ErrIllegalTransactionState = errors.New("illegal transaction state")

	// ErrNotActive is returned for operations on a completed transaction.
	ErrNotActive = errors.New("transaction is not active")

	// ErrMarkedRollback is returned by Commit on a rollback-only transaction.
	// The transaction has been rolled back when it is returned.
	ErrMarkedRollback = errors.New("transaction marked for rollback")

	// ErrResourceBound is returned when a single-resource transaction is
	// asked to bind a second resource.
	ErrResourceBound = errors.New("transaction already has a bound resource")

	// ErrNoFactory is returned when a Template needs to begin a transaction
	// but has no Factory.
	ErrNoFactory = errors.New("transaction factory not configured")

	// ErrRecordNotFound is returned when a journal has no record for a
	// transaction.
	ErrRecordNotFound = errors.New("transaction record not found")
)

// XAError reports a resource that failed an XA operation.
type XAError struct {
	Xid Xid
	Op  string
	Err error
}

func (e *XAError) Error() string {
	return fmt.Sprintf("xa %s %s: %v", e.Op, e.Xid, e.Err)
}

func (e *XAError) Unwrap() error { return e.Err }

// RollbackError reports a commit that ended in rollback because a resource
// voted against it or failed to prepare.
type RollbackError struct {
	TxID string
	Err  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("transaction %s rolled back: %v", e.TxID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// StateError reports an action that is illegal in the current state.
type StateError struct {
	Action Action
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

// Is reports ErrIllegalTransactionState as a match.
func (e *StateError) Is(target error) bool { return target == ErrIllegalTransactionState }
