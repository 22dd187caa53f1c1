// Package transaction provides local and XA transactions for flows.
//
// A Transaction is bound to a context.Context with WithTransaction and found
// again with FromContext; every processor that receives the context joins
// the same transaction. Active transactions are also tracked in a
// Coordination registry so they can be inspected and counted.
//
// XA transactions are begun by a Manager. Resources implementing XAResource
// are enlisted through the transaction; the ResourceManager keeps one Holder
// per enlisted resource and drives two-phase commit:
//
//	tm := transaction.NewManager()
//	tx, err := tm.Begin(ctx)
//	if err != nil { ... }
//	_ = tx.Enlist(ctx, ordersQueue)
//	_ = tx.Enlist(ctx, auditQueue)
//	if err := tx.Commit(ctx); err != nil { ... } // prepare both, then commit
//
// Once a transaction commits or rolls back, every holder it owned is
// removed, so resources never leak into the next transaction.
//
// Template demarcates transactions declaratively with one of the Action
// values (ALWAYS_BEGIN, BEGIN_OR_JOIN, ...), in the same way a flow's
// transaction configuration does.
package transaction
