// Package lockmgr implements hierarchical, time-bounded locks on top of any
// backend implementing lockstore.IStore.
//
// The lock manager only ever stores in the provided IStore and has no other
// internal state. It is therefore safe to create it multiple times on the same
// store, even once per operation. As long as the same store is used every time,
// all locks work as expected.
//
// Lock Names:
//
//	A lock is identified by a QName: a namespace URI plus a dotted local name
//	such as "jobs.cleanup.daily". Local names and tokens are folded to
//	lowercase, so the whole system is case-insensitive.
//
//	Locking a name also registers shared locks on all of its ancestors:
//
//	    SplitLockQName({ns}a.b.c) = [{ns}a, {ns}a.b, {ns}a.b.c]
//
//	Every element maps to its own lock resource. A lock row ties one of those
//	shared resources to the exclusive resource (the full name) together with
//	the holder's token and an expiry time.
//
// Conflict Rules:
//
//	When acquiring, every existing row on the required resources is checked
//	in this order:
//
//	- same token: takeable (re-acquire, expired or not)
//	- expired: takeable
//	- exclusive row of another token: conflict
//	- row on the resource we want exclusively: conflict (a descendant is locked)
//	- otherwise: takeable (a sibling shares an ancestor)
//
//	Siblings like "a.b" and "a.c" never conflict, while "a" cannot be locked
//	while "a.b" is held by another token.
//
// Refresh and Release:
//
//	Both rewrite all rows of the exclusive resource still carrying the token in
//	one bulk update and compare the number of rows changed with the number of
//	names in the split. A refresh does not look at the expiry, so a holder that
//	stalled past its ttl can still win its lock back if nobody took it over.
//	Release writes the token ReleasedToken and a ttl of zero. Rows are never
//	deleted.
//
// Errors:
//
//	Every failure is a *LockAcquisitionError with one of the kinds
//	ExclusiveLockExists, FailedToAcquireLock, FailedToReleaseLock,
//	LockResourceMissing or LockUpdateCount. Use IsExclusiveLockExists to detect
//	"someone else has it" and IsRetryable to detect a lost race. The manager
//	itself never retries or waits; see RetryOnRace and AcquireWait.
//
// Transactions:
//
//	NewLockManager runs every store call on its own. If the backend implements
//	lockstore.ITransactor, NewTransactionalLockManager runs each operation in a
//	single transaction instead.
//
// Usage Example:
//
//	mgr := lockmgr.NewLockManager(store)
//	name := lockmgr.NewQName(lockmgr.DefaultNamespaceURI, "jobs.cleanup")
//
//	err := mgr.AcquireLock(ctx, name, txID, 30*time.Second)
//	if lockmgr.IsExclusiveLockExists(err) {
//	    return // someone else is running the job
//	}
//	if err != nil {
//	    return err
//	}
//	defer mgr.ReleaseLockQuiet(ctx, name, txID)
package lockmgr
