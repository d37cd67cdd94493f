package lockmgr

import (
	"context"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"time"
)

// ILockManager defines the interface for a hierarchical lock manager.
//
// All methods fold the local name of the qname and the token to lowercase before
// using them. Failures are reported as *LockAcquisitionError unless the input
// itself was invalid.
type ILockManager interface {
	// AcquireLock takes the exclusive lock on qname for token. The lock expires
	// ttl after the call. Re-acquiring with the same token always succeeds and
	// extends the lock.
	AcquireLock(ctx context.Context, qname QName, token string, ttl time.Duration) error

	// RefreshLock extends a lock held by token to expire ttl from now. It succeeds
	// even if the lock had expired, as long as no other token took it over.
	RefreshLock(ctx context.Context, qname QName, token string, ttl time.Duration) error

	// ReleaseLock gives up a lock held by token. If the lock is not fully held by
	// token, an optimistic release returns (false, nil) while a strict release
	// returns an error. A successful release returns (true, nil).
	ReleaseLock(ctx context.Context, qname QName, token string, optimistic bool) (released bool, err error)

	// ReleaseLockQuiet is a strict release that swallows all errors.
	// It returns true only if the lock was released.
	ReleaseLockQuiet(ctx context.Context, qname QName, token string) bool

	// GetLockState returns the lock rows an acquire of qname would evaluate.
	// It never creates namespaces or resources.
	GetLockState(ctx context.Context, qname QName) ([]*lockstore.LockEntity, error)
}
