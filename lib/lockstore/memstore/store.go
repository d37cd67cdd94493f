package memstore

import (
	"context"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"time"
)

// Store is an in-process lockstore.IStore backed by an Engine.
// Every method is atomic on its own; Transact groups several calls into one
// atomic unit.
type Store struct {
	engine *Engine
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of lock start and expiry times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithEngine makes the store operate on an existing engine instead of a new one.
func WithEngine(e *Engine) Option {
	return func(s *Store) {
		s.engine = e
	}
}

// NewStore creates a new, empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = NewEngine()
	}
	return s
}

// Factory returns a lockstore.StoreFactory producing independent stores.
func Factory(opts ...Option) lockstore.StoreFactory {
	return func() (lockstore.IStore, error) {
		return NewStore(opts...), nil
	}
}

// Engine returns the engine the store operates on.
func (s *Store) Engine() *Engine {
	return s.engine
}

// Transact runs fn while holding the engine's write lock. Writes made through
// tx are undone if fn fails.
func (s *Store) Transact(ctx context.Context, fn func(tx lockstore.IStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.engine.Apply(func(t *Tables) error {
		return fn(&view{tables: t, now: s.now})
	})
}

// --------------------------------------------------------------------------
// Interface Methods (docs see lockstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) GetNamespace(ctx context.Context, uri string) (id int64, ok bool, err error) {
	err = s.engine.View(func(t *Tables) error {
		id, ok, err = (&view{tables: t, now: s.now}).GetNamespace(ctx, uri)
		return err
	})
	return
}

func (s *Store) ResolveOrCreateNamespace(ctx context.Context, uri string) (id int64, err error) {
	// fast path without the write lock
	if id, ok, err := s.GetNamespace(ctx, uri); err != nil || ok {
		return id, err
	}
	err = s.engine.Apply(func(t *Tables) error {
		id, err = (&view{tables: t, now: s.now}).ResolveOrCreateNamespace(ctx, uri)
		return err
	})
	return
}

func (s *Store) GetLockResource(ctx context.Context, namespaceID int64, localName string) (r *lockstore.LockResource, err error) {
	err = s.engine.View(func(t *Tables) error {
		r, err = (&view{tables: t, now: s.now}).GetLockResource(ctx, namespaceID, localName)
		return err
	})
	return
}

func (s *Store) CreateLockResource(ctx context.Context, namespaceID int64, localName string) (r *lockstore.LockResource, err error) {
	err = s.engine.Apply(func(t *Tables) error {
		r, err = (&view{tables: t, now: s.now}).CreateLockResource(ctx, namespaceID, localName)
		return err
	})
	return
}

func (s *Store) GetLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID) (l *lockstore.LockEntity, err error) {
	err = s.engine.View(func(t *Tables) error {
		l, err = (&view{tables: t, now: s.now}).GetLock(ctx, sharedResourceID, exclusiveResourceID)
		return err
	})
	return
}

func (s *Store) GetLocksBySharedResourceIDs(ctx context.Context, ids []lockstore.ResourceID) (locks []*lockstore.LockEntity, err error) {
	err = s.engine.View(func(t *Tables) error {
		locks, err = (&view{tables: t, now: s.now}).GetLocksBySharedResourceIDs(ctx, ids)
		return err
	})
	return
}

func (s *Store) CreateLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID, lockToken string, ttl time.Duration) (l *lockstore.LockEntity, err error) {
	err = s.engine.Apply(func(t *Tables) error {
		l, err = (&view{tables: t, now: s.now}).CreateLock(ctx, sharedResourceID, exclusiveResourceID, lockToken, ttl)
		return err
	})
	return
}

func (s *Store) UpdateLock(ctx context.Context, lock *lockstore.LockEntity, newLockToken string, ttl time.Duration) (l *lockstore.LockEntity, err error) {
	err = s.engine.Apply(func(t *Tables) error {
		l, err = (&view{tables: t, now: s.now}).UpdateLock(ctx, lock, newLockToken, ttl)
		return err
	})
	return
}

func (s *Store) UpdateLocks(ctx context.Context, exclusiveResourceID lockstore.ResourceID, oldLockToken, newLockToken string, ttl time.Duration) (n int, err error) {
	err = s.engine.Apply(func(t *Tables) error {
		n, err = (&view{tables: t, now: s.now}).UpdateLocks(ctx, exclusiveResourceID, oldLockToken, newLockToken, ttl)
		return err
	})
	return
}

// --------------------------------------------------------------------------
// view adapts Tables to lockstore.IStore inside View/Apply
// --------------------------------------------------------------------------

type view struct {
	tables *Tables
	now    func() time.Time
}

// times returns start and expiry truncated to milliseconds, the resolution
// every backend stores.
func (v *view) times(ttl time.Duration) (time.Time, time.Time) {
	start := time.UnixMilli(v.now().UnixMilli())
	return start, start.Add(ttl)
}

func (v *view) GetNamespace(ctx context.Context, uri string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	id, ok := v.tables.GetNamespace(uri)
	return id, ok, nil
}

func (v *view) ResolveOrCreateNamespace(ctx context.Context, uri string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return v.tables.ResolveNamespace(uri), nil
}

func (v *view) GetLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.tables.GetResource(namespaceID, localName), nil
}

func (v *view) CreateLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.tables.CreateResource(namespaceID, localName)
}

func (v *view) GetLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID) (*lockstore.LockEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.tables.GetLock(sharedResourceID, exclusiveResourceID), nil
}

func (v *view) GetLocksBySharedResourceIDs(ctx context.Context, ids []lockstore.ResourceID) ([]*lockstore.LockEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.tables.GetLocksByShared(ids), nil
}

func (v *view) CreateLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID, lockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, expiry := v.times(ttl)
	return v.tables.CreateLock(sharedResourceID, exclusiveResourceID, lockToken, start, expiry)
}

func (v *view) UpdateLock(ctx context.Context, lock *lockstore.LockEntity, newLockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, expiry := v.times(ttl)
	return v.tables.UpdateLock(lock.Key(), lock.Version, newLockToken, start, expiry)
}

func (v *view) UpdateLocks(ctx context.Context, exclusiveResourceID lockstore.ResourceID, oldLockToken, newLockToken string, ttl time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start, expiry := v.times(ttl)
	return v.tables.UpdateLocks(exclusiveResourceID, oldLockToken, newLockToken, start, expiry), nil
}
