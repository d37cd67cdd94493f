package lockmgr

import (
	"context"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"time"
)

type txLockMgrImpl struct {
	transactor lockstore.ITransactor
	opts       []Option
}

// NewTransactionalLockManager creates a lock manager that runs every operation
// inside a single store transaction. A failed acquire or refresh leaves no
// partial rows behind.
func NewTransactionalLockManager(transactor lockstore.ITransactor, opts ...Option) ILockManager {
	return &txLockMgrImpl{
		transactor: transactor,
		opts:       opts,
	}
}

func (m *txLockMgrImpl) inTx(ctx context.Context, fn func(mgr ILockManager) error) error {
	return m.transactor.Transact(ctx, func(tx lockstore.IStore) error {
		return fn(NewLockManager(tx, m.opts...))
	})
}

func (m *txLockMgrImpl) AcquireLock(ctx context.Context, qname QName, token string, ttl time.Duration) error {
	return m.inTx(ctx, func(mgr ILockManager) error {
		return mgr.AcquireLock(ctx, qname, token, ttl)
	})
}

func (m *txLockMgrImpl) RefreshLock(ctx context.Context, qname QName, token string, ttl time.Duration) error {
	return m.inTx(ctx, func(mgr ILockManager) error {
		return mgr.RefreshLock(ctx, qname, token, ttl)
	})
}

func (m *txLockMgrImpl) ReleaseLock(ctx context.Context, qname QName, token string, optimistic bool) (released bool, err error) {
	err = m.inTx(ctx, func(mgr ILockManager) error {
		released, err = mgr.ReleaseLock(ctx, qname, token, optimistic)
		return err
	})
	return released, err
}

func (m *txLockMgrImpl) ReleaseLockQuiet(ctx context.Context, qname QName, token string) bool {
	released, err := m.ReleaseLock(ctx, qname, token, false)
	return err == nil && released
}

func (m *txLockMgrImpl) GetLockState(ctx context.Context, qname QName) (locks []*lockstore.LockEntity, err error) {
	err = m.inTx(ctx, func(mgr ILockManager) error {
		locks, err = mgr.GetLockState(ctx, qname)
		return err
	})
	return locks, err
}
