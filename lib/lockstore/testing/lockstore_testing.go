package testing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

const testNamespace = "urn:dlock:test"

// RunLockStoreTests runs the full conformance suite against a lock store
// implementation: first the raw store contract, then the lock manager
// scenarios on top of it. Every subtest gets a fresh store from factory.
func RunLockStoreTests(t *testing.T, name string, factory lockstore.StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Namespaces", func(t *testing.T) {
			testNamespaces(t, newStore(t, factory))
		})

		t.Run("LockResources", func(t *testing.T) {
			testLockResources(t, newStore(t, factory))
		})

		t.Run("ConcurrentGetOrCreate", func(t *testing.T) {
			testConcurrentGetOrCreate(t, newStore(t, factory))
		})

		t.Run("CreateLock", func(t *testing.T) {
			testCreateLock(t, newStore(t, factory))
		})

		t.Run("UpdateLock", func(t *testing.T) {
			testUpdateLock(t, newStore(t, factory))
		})

		t.Run("UpdateLocks", func(t *testing.T) {
			testUpdateLocks(t, newStore(t, factory))
		})

		t.Run("GetLocksBySharedResourceIDs", func(t *testing.T) {
			testGetLocksByShared(t, newStore(t, factory))
		})

		t.Run("Transact", func(t *testing.T) {
			testTransact(t, newStore(t, factory))
		})

		t.Run("Manager", func(t *testing.T) {
			runManagerTests(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newStore(t testing.TB, factory lockstore.StoreFactory) lockstore.IStore {
	t.Helper()
	store, err := factory()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustNamespace(t testing.TB, store lockstore.IStore) int64 {
	t.Helper()
	id, err := store.ResolveOrCreateNamespace(context.Background(), testNamespace)
	if err != nil {
		t.Fatalf("ResolveOrCreateNamespace failed: %v", err)
	}
	return id
}

func mustResource(t testing.TB, store lockstore.IStore, ns int64, name string) lockstore.ResourceID {
	t.Helper()
	r, err := lockstore.GetOrCreateLockResource(context.Background(), store, ns, name)
	if err != nil {
		t.Fatalf("GetOrCreateLockResource(%s) failed: %v", name, err)
	}
	return r.ID
}

func mustCreateLock(t testing.TB, store lockstore.IStore, shared, exclusive lockstore.ResourceID, token string, ttl time.Duration) *lockstore.LockEntity {
	t.Helper()
	l, err := store.CreateLock(context.Background(), shared, exclusive, token, ttl)
	if err != nil {
		t.Fatalf("CreateLock(%d, %d) failed: %v", shared, exclusive, err)
	}
	return l
}

// --------------------------------------------------------------------------
// Store tests
// --------------------------------------------------------------------------

func testNamespaces(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()

	if _, ok, err := store.GetNamespace(ctx, "urn:missing"); err != nil || ok {
		t.Fatalf("GetNamespace of unknown uri: ok=%v err=%v", ok, err)
	}

	id1, err := store.ResolveOrCreateNamespace(ctx, "urn:a")
	if err != nil {
		t.Fatalf("ResolveOrCreateNamespace failed: %v", err)
	}
	id2, err := store.ResolveOrCreateNamespace(ctx, "urn:a")
	if err != nil {
		t.Fatalf("ResolveOrCreateNamespace failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ResolveOrCreateNamespace is not idempotent: %d != %d", id1, id2)
	}

	other, err := store.ResolveOrCreateNamespace(ctx, "urn:b")
	if err != nil {
		t.Fatalf("ResolveOrCreateNamespace failed: %v", err)
	}
	if other == id1 {
		t.Errorf("different uris share namespace id %d", other)
	}

	got, ok, err := store.GetNamespace(ctx, "urn:a")
	if err != nil || !ok || got != id1 {
		t.Errorf("GetNamespace(urn:a) = %d, %v, %v; want %d, true, nil", got, ok, err, id1)
	}
}

func testLockResources(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()
	ns := mustNamespace(t, store)

	r, err := store.GetLockResource(ctx, ns, "a.b")
	if err != nil || r != nil {
		t.Fatalf("GetLockResource of unknown name = %v, %v; want nil, nil", r, err)
	}

	created, err := store.CreateLockResource(ctx, ns, "a.b")
	if err != nil {
		t.Fatalf("CreateLockResource failed: %v", err)
	}
	if created.NamespaceID != ns || created.LocalName != "a.b" {
		t.Errorf("unexpected resource: %+v", created)
	}

	_, err = store.CreateLockResource(ctx, ns, "a.b")
	if !lockstore.IsResourceAlreadyExists(err) {
		t.Errorf("expected ResourceAlreadyExists on duplicate create, got %v", err)
	}

	fetched, err := store.GetLockResource(ctx, ns, "a.b")
	if err != nil {
		t.Fatalf("GetLockResource failed: %v", err)
	}
	if diff := cmp.Diff(created, fetched); diff != "" {
		t.Errorf("resource mismatch (-created +fetched):\n%s", diff)
	}

	// the registry folds case and returns the existing identity
	again, err := lockstore.GetOrCreateLockResource(ctx, store, ns, "A.B")
	if err != nil {
		t.Fatalf("GetOrCreateLockResource failed: %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("GetOrCreateLockResource returned id %d, want %d", again.ID, created.ID)
	}

	// same name in another namespace is another resource
	otherNS, err := store.ResolveOrCreateNamespace(ctx, "urn:other")
	if err != nil {
		t.Fatalf("ResolveOrCreateNamespace failed: %v", err)
	}
	other, err := lockstore.GetOrCreateLockResource(ctx, store, otherNS, "a.b")
	if err != nil {
		t.Fatalf("GetOrCreateLockResource failed: %v", err)
	}
	if other.ID == created.ID {
		t.Errorf("resources of different namespaces share id %d", other.ID)
	}
}

func testConcurrentGetOrCreate(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()
	ns := mustNamespace(t, store)

	const workers = 8
	ids := make([]lockstore.ResourceID, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			r, err := lockstore.GetOrCreateLockResource(ctx, store, ns, "contended")
			if err != nil {
				return err
			}
			ids[i] = r.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent GetOrCreateLockResource failed: %v", err)
	}
	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent callers got different ids: %v", ids)
		}
	}
}

func testCreateLock(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()
	ns := mustNamespace(t, store)
	a := mustResource(t, store, ns, "a")
	ab := mustResource(t, store, ns, "a.b")

	before := time.Now().Add(-time.Second)
	lock := mustCreateLock(t, store, a, ab, "tx1", 5*time.Second)

	if lock.SharedResourceID != a || lock.ExclusiveResourceID != ab || lock.LockToken != "tx1" {
		t.Errorf("unexpected lock: %+v", lock)
	}
	if lock.IsExclusive() {
		t.Errorf("lock on ancestor must not be exclusive")
	}
	if lock.StartTime.Before(before) {
		t.Errorf("start time %s is too early", lock.StartTime)
	}
	if got := lock.ExpiryTime.Sub(lock.StartTime); got != 5*time.Second {
		t.Errorf("expiry - start = %s, want 5s", got)
	}

	_, err := store.CreateLock(ctx, a, ab, "tx2", time.Second)
	if !lockstore.IsConcurrentCreate(err) {
		t.Errorf("expected ConcurrentCreate on duplicate pair, got %v", err)
	}

	fetched, err := store.GetLock(ctx, a, ab)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if diff := cmp.Diff(lock, fetched); diff != "" {
		t.Errorf("lock mismatch (-created +fetched):\n%s", diff)
	}

	missing, err := store.GetLock(ctx, ab, a)
	if err != nil || missing != nil {
		t.Errorf("GetLock of unknown pair = %v, %v; want nil, nil", missing, err)
	}

	exclusive := mustCreateLock(t, store, ab, ab, "tx1", 0)
	if !exclusive.IsExclusive() {
		t.Errorf("lock with shared == exclusive must be exclusive")
	}
	if !exclusive.HasExpired(time.Now()) {
		t.Errorf("lock with ttl 0 must be expired immediately")
	}
}

func testUpdateLock(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()
	ns := mustNamespace(t, store)
	x := mustResource(t, store, ns, "x")

	lock := mustCreateLock(t, store, x, x, "tx1", time.Second)

	updated, err := store.UpdateLock(ctx, lock, "tx2", time.Minute)
	if err != nil {
		t.Fatalf("UpdateLock failed: %v", err)
	}
	if updated.LockToken != "tx2" {
		t.Errorf("token = %q, want tx2", updated.LockToken)
	}
	if updated.Version == lock.Version {
		t.Errorf("version not changed by update")
	}
	if got := updated.ExpiryTime.Sub(updated.StartTime); got != time.Minute {
		t.Errorf("expiry - start = %s, want 1m", got)
	}

	// the original copy is stale now
	_, err = store.UpdateLock(ctx, lock, "tx3", time.Minute)
	if !lockstore.IsConcurrencyFailure(err) {
		t.Errorf("expected ConcurrencyFailure for stale version, got %v", err)
	}

	fetched, err := store.GetLock(ctx, x, x)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if diff := cmp.Diff(updated, fetched); diff != "" {
		t.Errorf("lock mismatch (-updated +fetched):\n%s", diff)
	}
}

func testUpdateLocks(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()
	ns := mustNamespace(t, store)
	a := mustResource(t, store, ns, "a")
	ab := mustResource(t, store, ns, "a.b")
	ac := mustResource(t, store, ns, "a.c")

	mustCreateLock(t, store, a, ab, "tx1", time.Second)
	mustCreateLock(t, store, ab, ab, "tx1", time.Second)
	mustCreateLock(t, store, a, ac, "tx1", time.Second)
	mustCreateLock(t, store, ac, ac, "tx2", time.Second)

	n, err := store.UpdateLocks(ctx, ab, "tx1", "tx9", time.Hour)
	if err != nil {
		t.Fatalf("UpdateLocks failed: %v", err)
	}
	if n != 2 {
		t.Errorf("UpdateLocks updated %d rows, want 2", n)
	}

	// only rows of the exclusive resource with the old token are touched
	n, err = store.UpdateLocks(ctx, ac, "tx1", "tx9", time.Hour)
	if err != nil {
		t.Fatalf("UpdateLocks failed: %v", err)
	}
	if n != 1 {
		t.Errorf("UpdateLocks updated %d rows, want 1", n)
	}

	n, err = store.UpdateLocks(ctx, ab, "tx1", "tx9", time.Hour)
	if err != nil {
		t.Fatalf("UpdateLocks failed: %v", err)
	}
	if n != 0 {
		t.Errorf("UpdateLocks with old token updated %d rows, want 0", n)
	}

	for _, key := range []lockstore.LockKey{{Shared: a, Exclusive: ab}, {Shared: ab, Exclusive: ab}, {Shared: a, Exclusive: ac}} {
		l, err := store.GetLock(ctx, key.Shared, key.Exclusive)
		if err != nil || l == nil {
			t.Fatalf("GetLock(%v) = %v, %v", key, l, err)
		}
		if l.LockToken != "tx9" {
			t.Errorf("lock %v has token %q, want tx9", key, l.LockToken)
		}
		if got := l.ExpiryTime.Sub(l.StartTime); got != time.Hour {
			t.Errorf("lock %v: expiry - start = %s, want 1h", key, got)
		}
	}

	untouched, err := store.GetLock(ctx, ac, ac)
	if err != nil || untouched == nil || untouched.LockToken != "tx2" {
		t.Errorf("lock of other token was modified: %+v, %v", untouched, err)
	}
}

func testGetLocksByShared(t *testing.T, store lockstore.IStore) {
	ctx := context.Background()
	ns := mustNamespace(t, store)
	a := mustResource(t, store, ns, "a")
	ab := mustResource(t, store, ns, "a.b")
	ac := mustResource(t, store, ns, "a.c")
	d := mustResource(t, store, ns, "d")

	mustCreateLock(t, store, a, ab, "tx1", time.Second)
	mustCreateLock(t, store, ab, ab, "tx1", time.Second)
	mustCreateLock(t, store, a, ac, "tx2", 0) // expired rows are returned as well
	mustCreateLock(t, store, d, d, "tx3", time.Second)

	locks, err := store.GetLocksBySharedResourceIDs(ctx, []lockstore.ResourceID{a, ab})
	if err != nil {
		t.Fatalf("GetLocksBySharedResourceIDs failed: %v", err)
	}
	got := make(map[lockstore.LockKey]string)
	for _, l := range locks {
		got[l.Key()] = l.LockToken
	}
	want := map[lockstore.LockKey]string{
		{Shared: a, Exclusive: ab}:  "tx1",
		{Shared: ab, Exclusive: ab}: "tx1",
		{Shared: a, Exclusive: ac}:  "tx2",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected locks (-want +got):\n%s", diff)
	}

	locks, err = store.GetLocksBySharedResourceIDs(ctx, nil)
	if err != nil || len(locks) != 0 {
		t.Errorf("GetLocksBySharedResourceIDs(nil) = %v, %v; want empty", locks, err)
	}
}

func testTransact(t *testing.T, store lockstore.IStore) {
	transactor, ok := store.(lockstore.ITransactor)
	if !ok {
		t.Skip("store does not support transactions")
	}
	ctx := context.Background()
	ns := mustNamespace(t, store)

	errAbort := fmt.Errorf("abort")
	err := transactor.Transact(ctx, func(tx lockstore.IStore) error {
		r, err := tx.CreateLockResource(ctx, ns, "rolled.back")
		if err != nil {
			return err
		}
		if _, err := tx.CreateLock(ctx, r.ID, r.ID, "tx1", time.Minute); err != nil {
			return err
		}
		return errAbort
	})
	if err != errAbort {
		t.Fatalf("Transact returned %v, want the error of fn", err)
	}
	if r, err := store.GetLockResource(ctx, ns, "rolled.back"); err != nil || r != nil {
		t.Errorf("resource survived rollback: %v, %v", r, err)
	}

	var id lockstore.ResourceID
	err = transactor.Transact(ctx, func(tx lockstore.IStore) error {
		r, err := tx.CreateLockResource(ctx, ns, "committed")
		if err != nil {
			return err
		}
		id = r.ID
		_, err = tx.CreateLock(ctx, r.ID, r.ID, "tx1", time.Minute)
		return err
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}
	if l, err := store.GetLock(ctx, id, id); err != nil || l == nil || l.LockToken != "tx1" {
		t.Errorf("committed lock not visible: %v, %v", l, err)
	}
}

// --------------------------------------------------------------------------
// Lock manager scenarios
// --------------------------------------------------------------------------

type managerFactory func(store lockstore.IStore) lockmgr.ILockManager

func runManagerTests(t *testing.T, factory lockstore.StoreFactory) {
	managers := map[string]managerFactory{
		"Direct": func(store lockstore.IStore) lockmgr.ILockManager {
			return lockmgr.NewLockManager(store)
		},
		"Transactional": func(store lockstore.IStore) lockmgr.ILockManager {
			transactor, ok := store.(lockstore.ITransactor)
			if !ok {
				return nil
			}
			return lockmgr.NewTransactionalLockManager(transactor)
		},
	}

	scenarios := []struct {
		name string
		fn   func(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager)
	}{
		{"AcquireCreatesSharedRows", testAcquireCreatesSharedRows},
		{"ExclusiveConflict", testExclusiveConflict},
		{"ReacquireSameToken", testReacquireSameToken},
		{"CaseInsensitive", testCaseInsensitive},
		{"AncestorBlockedSiblingFree", testAncestorBlockedSiblingFree},
		{"ReleaseThenReacquire", testReleaseThenReacquire},
		{"ReleaseSemantics", testReleaseSemantics},
		{"ExpiryAdmitsTakeover", testExpiryAdmitsTakeover},
		{"RefreshToleratesExpiry", testRefreshToleratesExpiry},
		{"RefreshMissing", testRefreshMissing},
		{"ConcurrentAcquire", testConcurrentAcquire},
	}

	for mgrName, newMgr := range managers {
		t.Run(mgrName, func(t *testing.T) {
			for _, sc := range scenarios {
				t.Run(sc.name, func(t *testing.T) {
					store := newStore(t, factory)
					mgr := newMgr(store)
					if mgr == nil {
						t.Skip("store does not support transactions")
					}
					sc.fn(t, store, mgr)
				})
			}
		})
	}
}

func qn(local string) lockmgr.QName {
	return lockmgr.NewQName(testNamespace, local)
}

func mustAcquire(t testing.TB, mgr lockmgr.ILockManager, name, token string, ttl time.Duration) {
	t.Helper()
	if err := mgr.AcquireLock(context.Background(), qn(name), token, ttl); err != nil {
		t.Fatalf("AcquireLock(%s, %s) failed: %v", name, token, err)
	}
}

func requireConflict(t testing.TB, mgr lockmgr.ILockManager, name, token string, ttl time.Duration) {
	t.Helper()
	err := mgr.AcquireLock(context.Background(), qn(name), token, ttl)
	if !lockmgr.IsExclusiveLockExists(err) {
		t.Fatalf("AcquireLock(%s, %s) = %v, want %s", name, token, err, lockmgr.ExclusiveLockExists)
	}
}

func testAcquireCreatesSharedRows(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	ctx := context.Background()
	mustAcquire(t, mgr, "a.b.c", "tx1", 500*time.Millisecond)

	ns, ok, err := store.GetNamespace(ctx, testNamespace)
	if err != nil || !ok {
		t.Fatalf("namespace not created: %v", err)
	}
	ids := make(map[string]lockstore.ResourceID)
	for _, name := range []string{"a", "a.b", "a.b.c"} {
		r, err := store.GetLockResource(ctx, ns, name)
		if err != nil || r == nil {
			t.Fatalf("resource %s not created: %v", name, err)
		}
		ids[name] = r.ID
	}

	locks, err := mgr.GetLockState(ctx, qn("a.b.c"))
	if err != nil {
		t.Fatalf("GetLockState failed: %v", err)
	}
	if len(locks) != 3 {
		t.Fatalf("expected 3 lock rows, got %d", len(locks))
	}
	for _, l := range locks {
		if l.ExclusiveResourceID != ids["a.b.c"] {
			t.Errorf("row %d/%d does not belong to a.b.c", l.SharedResourceID, l.ExclusiveResourceID)
		}
		if l.LockToken != "tx1" {
			t.Errorf("row %d/%d has token %q", l.SharedResourceID, l.ExclusiveResourceID, l.LockToken)
		}
	}
}

func testExclusiveConflict(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	mustAcquire(t, mgr, "a.b.c", "tx1", 500*time.Millisecond)

	err := mgr.AcquireLock(context.Background(), qn("a.b.c"), "tx2", 0)
	var lae *lockmgr.LockAcquisitionError
	if !errors.As(err, &lae) || lae.Kind != lockmgr.ExclusiveLockExists {
		t.Fatalf("expected %s, got %v", lockmgr.ExclusiveLockExists, err)
	}
	if lae.Conflict == nil || lae.Conflict.LockToken != "tx1" {
		t.Errorf("conflict details missing or wrong: %+v", lae.Conflict)
	}
	if lae.Retryable() {
		t.Errorf("a conflict must not be retryable")
	}
}

func testReacquireSameToken(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	mustAcquire(t, mgr, "n", "tx1", time.Minute)
	mustAcquire(t, mgr, "n", "tx1", 2*time.Minute)
	requireConflict(t, mgr, "n", "tx2", 0)
}

func testCaseInsensitive(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	mustAcquire(t, mgr, "Jobs.Cleanup", "TX-A", time.Minute)
	mustAcquire(t, mgr, "jobs.cleanup", "tx-a", time.Minute)
	requireConflict(t, mgr, "JOBS.CLEANUP", "tx-b", time.Minute)

	released, err := mgr.ReleaseLock(context.Background(), qn("jObS.cLeAnUp"), "Tx-A", false)
	if err != nil || !released {
		t.Fatalf("ReleaseLock with different case = %v, %v", released, err)
	}
}

func testAncestorBlockedSiblingFree(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	mustAcquire(t, mgr, "a.a.a", "tx1", 5*time.Second)
	requireConflict(t, mgr, "a.a", "tx2", 5*time.Second)
	mustAcquire(t, mgr, "a.b", "tx3", 5*time.Second)

	// siblings under the same parent do not conflict either
	mustAcquire(t, mgr, "a.a.b", "tx4", 5*time.Second)
	requireConflict(t, mgr, "a", "tx5", 5*time.Second)
}

func testReleaseThenReacquire(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	ctx := context.Background()
	mustAcquire(t, mgr, "x", "tx1", 500*time.Second)

	released, err := mgr.ReleaseLock(ctx, qn("x"), "tx1", false)
	if err != nil || !released {
		t.Fatalf("ReleaseLock = %v, %v; want true, nil", released, err)
	}

	locks, err := mgr.GetLockState(ctx, qn("x"))
	if err != nil {
		t.Fatalf("GetLockState failed: %v", err)
	}
	if len(locks) != 1 || locks[0].LockToken != lockmgr.ReleasedToken {
		t.Fatalf("expected a single released row, got %+v", locks)
	}

	mustAcquire(t, mgr, "x", "tx2", 0)
}

func testReleaseSemantics(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	ctx := context.Background()

	// never locked
	released, err := mgr.ReleaseLock(ctx, qn("never"), "tx1", true)
	if err != nil || released {
		t.Errorf("optimistic release of unknown lock = %v, %v; want false, nil", released, err)
	}
	_, err = mgr.ReleaseLock(ctx, qn("never"), "tx1", false)
	if lockmgr.KindOf(err) != lockmgr.LockResourceMissing {
		t.Errorf("strict release of unknown lock = %v, want %s", err, lockmgr.LockResourceMissing)
	}

	mustAcquire(t, mgr, "held.lock", "tx1", time.Minute)

	// wrong token
	released, err = mgr.ReleaseLock(ctx, qn("held.lock"), "tx2", true)
	if err != nil || released {
		t.Errorf("optimistic release with wrong token = %v, %v; want false, nil", released, err)
	}
	_, err = mgr.ReleaseLock(ctx, qn("held.lock"), "tx2", false)
	var lae *lockmgr.LockAcquisitionError
	if !errors.As(err, &lae) || lae.Kind != lockmgr.FailedToReleaseLock || lae.Expected != 2 || lae.Actual != 0 {
		t.Errorf("strict release with wrong token = %v, want %s expected=2 actual=0", err, lockmgr.FailedToReleaseLock)
	}
	if mgr.ReleaseLockQuiet(ctx, qn("held.lock"), "tx2") {
		t.Errorf("quiet release with wrong token reported success")
	}

	requireConflict(t, mgr, "held.lock", "tx2", time.Minute)

	if !mgr.ReleaseLockQuiet(ctx, qn("held.lock"), "tx1") {
		t.Errorf("quiet release by holder failed")
	}
	if mgr.ReleaseLockQuiet(ctx, qn("held.lock"), "tx1") {
		t.Errorf("second quiet release reported success")
	}
}

func testExpiryAdmitsTakeover(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	ctx := context.Background()
	mustAcquire(t, mgr, "n", "tx1", 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	mustAcquire(t, mgr, "n", "tx2", time.Minute)

	if _, err := mgr.ReleaseLock(ctx, qn("n"), "tx1", false); lockmgr.KindOf(err) != lockmgr.FailedToReleaseLock {
		t.Errorf("release by previous holder = %v, want %s", err, lockmgr.FailedToReleaseLock)
	}
	if err := mgr.RefreshLock(ctx, qn("n"), "tx1", time.Minute); lockmgr.KindOf(err) != lockmgr.FailedToAcquireLock {
		t.Errorf("refresh by previous holder = %v, want %s", err, lockmgr.FailedToAcquireLock)
	}
	if released, err := mgr.ReleaseLock(ctx, qn("n"), "tx2", false); err != nil || !released {
		t.Errorf("release by new holder = %v, %v; want true, nil", released, err)
	}
}

func testRefreshToleratesExpiry(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	ctx := context.Background()
	iterations := 40
	if testing.Short() {
		iterations = 5
	}

	mustAcquire(t, mgr, "x", "tx1", 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	if err := mgr.RefreshLock(ctx, qn("x"), "tx1", time.Second); err != nil {
		t.Fatalf("refresh of expired lock failed: %v", err)
	}

	for i := 0; i < iterations; i++ {
		time.Sleep(50 * time.Millisecond)
		if err := mgr.RefreshLock(ctx, qn("x"), "tx1", time.Second); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
		requireConflict(t, mgr, "x", "tx2", 0)
	}
}

func testRefreshMissing(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	err := mgr.RefreshLock(context.Background(), qn("nothing.here"), "tx1", time.Second)
	if lockmgr.KindOf(err) != lockmgr.LockResourceMissing {
		t.Errorf("refresh of unknown lock = %v, want %s", err, lockmgr.LockResourceMissing)
	}
}

func testConcurrentAcquire(t *testing.T, store lockstore.IStore, mgr lockmgr.ILockManager) {
	const workers = 5
	var holders atomic.Int32
	var maxHolders atomic.Int32

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		token := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			for {
				err := mgr.AcquireLock(ctx, qn("shared.resource"), token, time.Minute)
				if err == nil {
					break
				}
				if !lockmgr.IsExclusiveLockExists(err) && !lockmgr.IsRetryable(err) {
					return err
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}

			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			holders.Add(-1)

			// A racing caller that read the rows before our exclusive row existed
			// can still overwrite the ancestor row. Acquiring again with our token
			// takes it back; after that no stale writer can succeed.
			if err := lockmgr.RetryOnRace(ctx, 10, func(ctx context.Context) error {
				return mgr.AcquireLock(ctx, qn("shared.resource"), token, time.Minute)
			}); err != nil {
				return fmt.Errorf("%s: re-acquire of held lock failed: %w", token, err)
			}
			released, err := mgr.ReleaseLock(ctx, qn("shared.resource"), token, false)
			if err != nil {
				return fmt.Errorf("%s: release failed: %w", token, err)
			}
			if !released {
				return fmt.Errorf("%s: lock was not released", token)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent acquire failed: %v", err)
	}
	if m := maxHolders.Load(); m != 1 {
		t.Errorf("%d callers held the lock at the same time", m)
	}
}
