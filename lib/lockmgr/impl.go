package lockmgr

import (
	"context"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

// ReleasedToken is written to every row of a released lock. It is uppercase, so
// no caller token (always folded to lowercase) can ever match it.
const ReleasedToken = "RELEASED"

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	store lockstore.IStore
	now   func() time.Time
}

// Option configures a lock manager.
type Option func(*lockMgrImpl)

// WithClock sets the time source used to decide whether a lock has expired.
func WithClock(now func() time.Time) Option {
	return func(m *lockMgrImpl) {
		m.now = now
	}
}

// NewLockManager creates a stateless lock manager over store. Each store call is
// its own unit of work, lost races surface as retryable errors.
func NewLockManager(store lockstore.IStore, opts ...Option) ILockManager {
	m := &lockMgrImpl{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// --------------------------------------------------------------------------
// Acquire
// --------------------------------------------------------------------------

func (m *lockMgrImpl) AcquireLock(ctx context.Context, qname QName, token string, ttl time.Duration) (err error) {
	defer observe(opAcquire, time.Now(), &err)

	if err = qname.Validate(); err != nil {
		return err
	}
	if err = validateTTL(ttl); err != nil {
		return err
	}
	qname = qname.Normalize()
	if token, err = normalizeToken(token); err != nil {
		return err
	}

	fail := func(err error) error {
		log.Warningf("acquire %s for %s failed: %v", qname, token, err)
		return wrapStoreError(FailedToAcquireLock, qname, token, err)
	}

	namespaceID, err := m.store.ResolveOrCreateNamespace(ctx, qname.NamespaceURI)
	if err != nil {
		return fail(err)
	}

	exclusive, err := lockstore.GetOrCreateLockResource(ctx, m.store, namespaceID, qname.LocalName)
	if err != nil {
		return fail(err)
	}

	requiredIDs, err := lockstore.GetOrCreateLockResources(ctx, m.store, namespaceID, localNames(SplitLockQName(qname)))
	if err != nil {
		return fail(err)
	}

	existing, err := m.store.GetLocksBySharedResourceIDs(ctx, requiredIDs)
	if err != nil {
		return fail(err)
	}

	// Check every existing lock before writing anything
	now := m.now()
	byKey := make(map[lockstore.LockKey]*lockstore.LockEntity, len(existing))
	for _, lock := range existing {
		if !canTakeLock(lock, token, exclusive.ID, now) {
			log.Debugf("acquire %s for %s blocked by %d/%d held by %s",
				qname, token, lock.SharedResourceID, lock.ExclusiveResourceID, lock.LockToken)
			return newConflictError(qname, token, lock)
		}
		byKey[lock.Key()] = lock
	}

	for _, sharedID := range requiredIDs {
		key := lockstore.LockKey{Shared: sharedID, Exclusive: exclusive.ID}
		if lock, ok := byKey[key]; ok {
			_, err = m.store.UpdateLock(ctx, lock, token, ttl)
		} else {
			_, err = m.store.CreateLock(ctx, sharedID, exclusive.ID, token, ttl)
		}
		if err != nil {
			return fail(err)
		}
	}
	return nil
}

// canTakeLock decides whether an existing lock may be overwritten by token
// wanting the exclusive resource desiredExclusiveID. The order of the checks matters.
func canTakeLock(lock *lockstore.LockEntity, token string, desiredExclusiveID lockstore.ResourceID, now time.Time) bool {
	switch {
	case lock.LockToken == token:
		// same holder, expired or not
		return true
	case lock.HasExpired(now):
		return true
	case lock.IsExclusive():
		return false
	case lock.SharedResourceID == desiredExclusiveID:
		// a descendant of the desired name is locked
		return false
	default:
		return true
	}
}

// --------------------------------------------------------------------------
// Refresh / Release
// --------------------------------------------------------------------------

// lookupExclusive finds the exclusive resource of qname without creating anything.
// It returns nil if the namespace or the resource does not exist.
func (m *lockMgrImpl) lookupExclusive(ctx context.Context, qname QName) (*lockstore.LockResource, error) {
	namespaceID, ok, err := m.store.GetNamespace(ctx, qname.NamespaceURI)
	if err != nil || !ok {
		return nil, err
	}
	return m.store.GetLockResource(ctx, namespaceID, qname.LocalName)
}

func (m *lockMgrImpl) RefreshLock(ctx context.Context, qname QName, token string, ttl time.Duration) (err error) {
	defer observe(opRefresh, time.Now(), &err)

	if err = qname.Validate(); err != nil {
		return err
	}
	if err = validateTTL(ttl); err != nil {
		return err
	}
	qname = qname.Normalize()
	if token, err = normalizeToken(token); err != nil {
		return err
	}

	exclusive, err := m.lookupExclusive(ctx, qname)
	if err != nil {
		return wrapStoreError(FailedToAcquireLock, qname, token, err)
	}
	if exclusive == nil {
		return &LockAcquisitionError{Kind: LockResourceMissing, LockQName: qname, Token: token}
	}

	expected := len(SplitLockQName(qname))
	actual, err := m.store.UpdateLocks(ctx, exclusive.ID, token, token, ttl)
	if err != nil {
		return wrapStoreError(FailedToAcquireLock, qname, token, err)
	}

	switch {
	case actual == expected:
		return nil
	case actual == 0:
		log.Debugf("refresh %s for %s: lock is not held", qname, token)
		return newCountError(FailedToAcquireLock, qname, token, expected, actual)
	default:
		log.Warningf("refresh %s for %s updated %d of %d rows", qname, token, actual, expected)
		return newCountError(LockUpdateCount, qname, token, expected, actual)
	}
}

func (m *lockMgrImpl) ReleaseLock(ctx context.Context, qname QName, token string, optimistic bool) (released bool, err error) {
	start := time.Now()
	defer func() { observeRelease(start, released, err) }()

	if err = qname.Validate(); err != nil {
		return false, err
	}
	qname = qname.Normalize()
	if token, err = normalizeToken(token); err != nil {
		return false, err
	}

	exclusive, err := m.lookupExclusive(ctx, qname)
	if err != nil {
		return false, wrapStoreError(FailedToReleaseLock, qname, token, err)
	}
	if exclusive == nil {
		if optimistic {
			return false, nil
		}
		return false, &LockAcquisitionError{Kind: LockResourceMissing, LockQName: qname, Token: token}
	}

	expected := len(SplitLockQName(qname))
	actual, err := m.store.UpdateLocks(ctx, exclusive.ID, token, ReleasedToken, 0)
	if err != nil {
		return false, wrapStoreError(FailedToReleaseLock, qname, token, err)
	}
	if actual != expected {
		if optimistic {
			log.Debugf("optimistic release %s for %s updated %d of %d rows", qname, token, actual, expected)
			return false, nil
		}
		return false, newCountError(FailedToReleaseLock, qname, token, expected, actual)
	}
	return true, nil
}

func (m *lockMgrImpl) ReleaseLockQuiet(ctx context.Context, qname QName, token string) bool {
	released, err := m.ReleaseLock(ctx, qname, token, false)
	if err != nil {
		log.Debugf("quiet release of %s for %s failed: %v", qname, token, err)
		return false
	}
	return released
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

func (m *lockMgrImpl) GetLockState(ctx context.Context, qname QName) ([]*lockstore.LockEntity, error) {
	if err := qname.Validate(); err != nil {
		return nil, err
	}
	qname = qname.Normalize()

	namespaceID, ok, err := m.store.GetNamespace(ctx, qname.NamespaceURI)
	if err != nil || !ok {
		return nil, err
	}

	var ids []lockstore.ResourceID
	for _, name := range SplitLockQName(qname) {
		resource, err := m.store.GetLockResource(ctx, namespaceID, name.LocalName)
		if err != nil {
			return nil, err
		}
		if resource != nil {
			ids = append(ids, resource.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return m.store.GetLocksBySharedResourceIDs(ctx, ids)
}
