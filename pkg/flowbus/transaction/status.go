package transaction

// Status represents the state of a transaction.
type Status string

// Transaction status constants.
const (
	StatusActive         Status = "active"
	StatusMarkedRollback Status = "marked_rollback"
	StatusSuspended      Status = "suspended"
	StatusPreparing      Status = "preparing"
	StatusPrepared       Status = "prepared"
	StatusCommitting     Status = "committing"
	StatusCommitted      Status = "committed"
	StatusRollingBack    Status = "rolling_back"
	StatusRolledBack     Status = "rolled_back"
	StatusNoTransaction  Status = "no_transaction"
)

// Completed reports whether the status is terminal.
func (s Status) Completed() bool {
	return s == StatusCommitted || s == StatusRolledBack
}
