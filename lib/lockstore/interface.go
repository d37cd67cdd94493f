package lockstore

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Value Types
// --------------------------------------------------------------------------

// ResourceID is the opaque identity of a LockResource. IDs are assigned by the
// store on creation and are never reused.
type ResourceID int64

// LockResource is the permanent identity of a lockable name.
// (NamespaceID, LocalName) is unique and a resource is never deleted once created.
type LockResource struct {
	ID          ResourceID `json:"id"`
	Version     int64      `json:"version"`
	NamespaceID int64      `json:"namespace_id"`
	LocalName   string     `json:"local_name"` // always lowercase
}

// LockEntity is a single row of the lock table. It is keyed by the pair
// (SharedResourceID, ExclusiveResourceID).
type LockEntity struct {
	SharedResourceID    ResourceID `json:"shared_resource_id"`
	ExclusiveResourceID ResourceID `json:"exclusive_resource_id"`
	Version             int64      `json:"version"`
	LockToken           string     `json:"lock_token"`
	StartTime           time.Time  `json:"start_time"`
	ExpiryTime          time.Time  `json:"expiry_time"`
}

// IsExclusive reports whether the row represents the full exclusive hold
// of a name (the shared resource is the exclusive resource itself).
func (l *LockEntity) IsExclusive() bool {
	return l.SharedResourceID == l.ExclusiveResourceID
}

// HasExpired reports whether the lock is no longer valid at the given time.
// A lock is expired once now reaches its expiry time.
func (l *LockEntity) HasExpired(now time.Time) bool {
	return !now.Before(l.ExpiryTime)
}

// Key returns the pair identifying the row.
func (l *LockEntity) Key() LockKey {
	return LockKey{Shared: l.SharedResourceID, Exclusive: l.ExclusiveResourceID}
}

// LockKey identifies a row of the lock table.
type LockKey struct {
	Shared    ResourceID
	Exclusive ResourceID
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILockStore is the transactional table of lock resources and locks consumed by
// the lock manager. Implementations must enforce uniqueness of
// (namespaceID, localName) for resources and of (shared, exclusive) for locks, and
// must check the Version of a lock on UpdateLock.
//
// Lookups return (nil, nil) when nothing is found. Local names and tokens are
// stored exactly as given; case folding is the caller's concern.
type ILockStore interface {
	// GetLockResource returns the resource for the exact (namespaceID, localName) pair.
	GetLockResource(ctx context.Context, namespaceID int64, localName string) (*LockResource, error)
	// CreateLockResource creates a new resource identity. If a concurrent creator
	// won the race an error satisfying IsResourceAlreadyExists is returned.
	CreateLockResource(ctx context.Context, namespaceID int64, localName string) (*LockResource, error)

	// GetLock returns the lock row for the given pair.
	GetLock(ctx context.Context, sharedResourceID, exclusiveResourceID ResourceID) (*LockEntity, error)
	// GetLocksBySharedResourceIDs returns every row whose shared resource is in ids,
	// including expired and released rows.
	GetLocksBySharedResourceIDs(ctx context.Context, ids []ResourceID) ([]*LockEntity, error)
	// CreateLock inserts a new row expiring ttl from now. If the pair already
	// exists an error satisfying IsConcurrentCreate is returned.
	CreateLock(ctx context.Context, sharedResourceID, exclusiveResourceID ResourceID, lockToken string, ttl time.Duration) (*LockEntity, error)
	// UpdateLock rewrites token and expiry of exactly the given row. If the row's
	// version changed since lock was read an error satisfying IsConcurrencyFailure
	// is returned.
	UpdateLock(ctx context.Context, lock *LockEntity, newLockToken string, ttl time.Duration) (*LockEntity, error)
	// UpdateLocks rewrites all rows with the given exclusive resource and token in
	// one step and returns the number of rows changed.
	UpdateLocks(ctx context.Context, exclusiveResourceID ResourceID, oldLockToken, newLockToken string, ttl time.Duration) (int, error)
}

// INamespaceResolver maps namespace URIs to stable numeric ids.
type INamespaceResolver interface {
	// GetNamespace looks up the id of uri without creating it.
	GetNamespace(ctx context.Context, uri string) (id int64, ok bool, err error)
	// ResolveOrCreateNamespace returns the id of uri, creating it on first use.
	// It is idempotent and safe under concurrent first use.
	ResolveOrCreateNamespace(ctx context.Context, uri string) (id int64, err error)
}

// IStore is a complete backend: lock tables plus namespace resolution.
type IStore interface {
	ILockStore
	INamespaceResolver
}

// ITransactor is implemented by backends that can run several store operations
// as one atomic unit. If fn returns an error every write made through tx is
// rolled back and the error is returned unchanged.
type ITransactor interface {
	Transact(ctx context.Context, fn func(tx IStore) error) error
}

// StoreFactory creates a fresh, empty backend. It is used by the shared test
// suite and by the server when creating shards.
type StoreFactory func() (IStore, error)
