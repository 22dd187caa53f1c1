package transaction

import (
	"context"
	"fmt"
)

// Xid identifies one resource branch of a global transaction.
type Xid struct {
	FormatID int
	GlobalID string
	BranchID string
}

// String returns the xid in "format:global:branch" form.
func (x Xid) String() string {
	return fmt.Sprintf("%d:%s:%s", x.FormatID, x.GlobalID, x.BranchID)
}

// Flags qualify XAResource Start and End calls.
type Flags int

// XA flags.
const (
	TMNoFlags Flags = 0
	TMJoin    Flags = 1 << iota
	TMResume
	TMSuccess
	TMFail
	TMSuspend
)

// Vote is a resource's answer to Prepare.
type Vote int

const (
	// VoteCommit means the branch is prepared and must be committed.
	VoteCommit Vote = iota

	// VoteReadOnly means the branch did no work and needs no commit.
	VoteReadOnly
)

// XAResource is a resource that takes part in two-phase commit.
// Implementations are used as map keys and must be comparable; pointer
// receivers satisfy this.
type XAResource interface {
	Start(ctx context.Context, xid Xid, flags Flags) error
	End(ctx context.Context, xid Xid, flags Flags) error
	Prepare(ctx context.Context, xid Xid) (Vote, error)
	Commit(ctx context.Context, xid Xid, onePhase bool) error
	Rollback(ctx context.Context, xid Xid) error
}
