package lockmgr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockstore"
	mock_lockstore "github.com/ValentinKolb/dLock/lib/lockstore/mock"
	"github.com/ValentinKolb/dLock/lib/lockstore/memstore"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// fakeClock is shared by the store and the manager so tests control expiry.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager() (ILockManager, *memstore.Store, *fakeClock) {
	clock := newFakeClock()
	store := memstore.NewStore(memstore.WithClock(clock.Now))
	return NewLockManager(store, WithClock(clock.Now)), store, clock
}

var ctx = context.Background()

func q(local string) QName {
	return NewQName(DefaultNamespaceURI, local)
}

// --------------------------------------------------------------------------
// Splitter and QName
// --------------------------------------------------------------------------

func TestSplitLockQName(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a", []string{"a"}},
		{"a.b", []string{"a", "a.b"}},
		{"a.b.c", []string{"a", "a.b", "a.b.c"}},
		{"Jobs.Daily", []string{"Jobs", "Jobs.Daily"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SplitLockQName(NewQName("urn:x", tt.in))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d names, want %d", len(got), len(tt.want))
			}
			for i, name := range got {
				if name.NamespaceURI != "urn:x" {
					t.Errorf("element %d lost its namespace: %v", i, name)
				}
			}
			if diff := cmp.Diff(tt.want, localNames(got)); diff != "" {
				t.Errorf("unexpected split (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseQName(t *testing.T) {
	tests := []struct {
		in      string
		want    QName
		wantErr bool
	}{
		{in: "{urn:a}x.y", want: NewQName("urn:a", "x.y")},
		{in: "x.y", want: NewQName(DefaultNamespaceURI, "x.y")},
		{in: "{}x", want: NewQName("", "x")},
		{in: "{urn:a", wantErr: true},
		{in: "{urn:a}", wantErr: true},
		{in: "", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: "a.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQName(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQName) {
					t.Errorf("ParseQName(%q) error = %v, want ErrInvalidQName", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQName(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseQName(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	name := NewQName("urn:a", "x.y")
	parsed, err := ParseQName(name.String())
	if err != nil || parsed != name {
		t.Errorf("String/Parse mismatch: %v, %v", parsed, err)
	}
}

func TestQNameValidate(t *testing.T) {
	tests := []struct {
		name    string
		qname   QName
		wantErr bool
	}{
		{"Plain", NewQName("urn:a", "x.y"), false},
		{"DefaultNamespace", NewQName("", "x"), false},
		{"BraceInNamespace", NewQName("urn:a}b", "x"), true},
		{"LongestNamespace", NewQName(strings.Repeat("n", MaxNamespaceURILength), "x"), false},
		{"NamespaceTooLong", NewQName(strings.Repeat("n", MaxNamespaceURILength+1), "x"), true},
		{"LongestLocalName", NewQName("urn:a", strings.Repeat("l", MaxLocalNameLength)), false},
		{"LocalNameTooLong", NewQName("urn:a", strings.Repeat("l", MaxLocalNameLength+1)), true},
		// limits count characters, not bytes
		{"MultiByteLocalName", NewQName("urn:a", strings.Repeat("ä", MaxLocalNameLength)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.qname.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidQName) {
				t.Errorf("Validate(%v) = %v, want ErrInvalidQName", tt.qname, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate(%v) failed: %v", tt.qname, err)
			}
			if tt.wantErr {
				return
			}
			parsed, err := ParseQName(tt.qname.Normalize().String())
			if err != nil || parsed != tt.qname.Normalize() {
				t.Errorf("String/Parse mismatch: %v, %v", parsed, err)
			}
		})
	}

	mgr, _, _ := newTestManager()
	err := mgr.AcquireLock(ctx, NewQName("urn:a", strings.Repeat("l", MaxLocalNameLength+1)), "tx1", time.Second)
	if !errors.Is(err, ErrInvalidQName) {
		t.Errorf("acquire of over-long name = %v, want ErrInvalidQName", err)
	}
}

// --------------------------------------------------------------------------
// canTakeLock
// --------------------------------------------------------------------------

func TestCanTakeLock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	valid := now.Add(time.Minute)
	expired := now.Add(-time.Millisecond)

	tests := []struct {
		name  string
		lock  lockstore.LockEntity
		token string
		want  bool
	}{
		{"same token", lockstore.LockEntity{SharedResourceID: 5, ExclusiveResourceID: 5, LockToken: "tx1", ExpiryTime: valid}, "tx1", true},
		{"same token expired", lockstore.LockEntity{SharedResourceID: 5, ExclusiveResourceID: 5, LockToken: "tx1", ExpiryTime: expired}, "tx1", true},
		{"expired exclusive", lockstore.LockEntity{SharedResourceID: 5, ExclusiveResourceID: 5, LockToken: "tx1", ExpiryTime: expired}, "tx2", true},
		{"expires now", lockstore.LockEntity{SharedResourceID: 5, ExclusiveResourceID: 5, LockToken: "tx1", ExpiryTime: now}, "tx2", true},
		{"valid exclusive", lockstore.LockEntity{SharedResourceID: 5, ExclusiveResourceID: 5, LockToken: "tx1", ExpiryTime: valid}, "tx2", false},
		{"shared on desired", lockstore.LockEntity{SharedResourceID: 7, ExclusiveResourceID: 9, LockToken: "tx1", ExpiryTime: valid}, "tx2", false},
		{"shared on ancestor", lockstore.LockEntity{SharedResourceID: 3, ExclusiveResourceID: 9, LockToken: "tx1", ExpiryTime: valid}, "tx2", true},
		{"released", lockstore.LockEntity{SharedResourceID: 7, ExclusiveResourceID: 7, LockToken: ReleasedToken, ExpiryTime: now}, "tx2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canTakeLock(&tt.lock, tt.token, 7, now); got != tt.want {
				t.Errorf("canTakeLock = %v, want %v", got, tt.want)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Manager on the in-memory store
// --------------------------------------------------------------------------

func TestAcquireValidation(t *testing.T) {
	mgr, _, _ := newTestManager()

	if err := mgr.AcquireLock(ctx, q(""), "tx1", time.Second); !errors.Is(err, ErrInvalidQName) {
		t.Errorf("empty name: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("x"), "", time.Second); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("x"), strings.Repeat("t", MaxTokenLength+1), time.Second); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("long token: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("x"), strings.Repeat("t", MaxTokenLength), time.Second); err != nil {
		t.Errorf("token of max length rejected: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("y"), "tx1", -time.Second); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("negative ttl: %v", err)
	}
	if err := mgr.RefreshLock(ctx, q("y"), "tx1", -time.Second); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("negative ttl on refresh: %v", err)
	}
}

func TestEmptyNamespaceUsesDefault(t *testing.T) {
	mgr, _, _ := newTestManager()

	if err := mgr.AcquireLock(ctx, NewQName("", "x"), "tx1", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("x"), "tx2", time.Minute); !IsExclusiveLockExists(err) {
		t.Errorf("expected conflict in default namespace, got %v", err)
	}
	if err := mgr.AcquireLock(ctx, NewQName("urn:other", "x"), "tx2", time.Minute); err != nil {
		t.Errorf("same name in another namespace must not conflict: %v", err)
	}
}

func TestExpiryWithClock(t *testing.T) {
	mgr, _, clock := newTestManager()

	if err := mgr.AcquireLock(ctx, q("a.b"), "tx1", time.Second); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("a"), "tx2", time.Second); !IsExclusiveLockExists(err) {
		t.Fatalf("ancestor of held lock: %v", err)
	}

	clock.Advance(time.Second)

	// the descendant's shared row on "a" has expired as well
	if err := mgr.AcquireLock(ctx, q("a"), "tx2", time.Second); err != nil {
		t.Fatalf("ancestor after expiry: %v", err)
	}
	if err := mgr.RefreshLock(ctx, q("a.b"), "tx1", time.Second); err != nil {
		t.Fatalf("refresh of expired but untaken lock: %v", err)
	}
}

func TestRefreshPartialUpdate(t *testing.T) {
	mgr, store, _ := newTestManager()

	if err := mgr.AcquireLock(ctx, q("a.b.c"), "tx1", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	// move one row of the lock to another token behind the manager's back
	ns, _, _ := store.GetNamespace(ctx, DefaultNamespaceURI)
	a, _ := store.GetLockResource(ctx, ns, "a")
	abc, _ := store.GetLockResource(ctx, ns, "a.b.c")
	row, err := store.GetLock(ctx, a.ID, abc.ID)
	if err != nil || row == nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if _, err := store.UpdateLock(ctx, row, "intruder", time.Minute); err != nil {
		t.Fatalf("UpdateLock failed: %v", err)
	}

	err = mgr.RefreshLock(ctx, q("a.b.c"), "tx1", time.Minute)
	var lae *LockAcquisitionError
	if !errors.As(err, &lae) || lae.Kind != LockUpdateCount {
		t.Fatalf("expected %s, got %v", LockUpdateCount, err)
	}
	if lae.Expected != 3 || lae.Actual != 2 {
		t.Errorf("expected=%d actual=%d, want 3 and 2", lae.Expected, lae.Actual)
	}
}

func TestTransactionalAcquireLeavesNoPartialRows(t *testing.T) {
	clock := newFakeClock()
	store := memstore.NewStore(memstore.WithClock(clock.Now))
	direct := NewLockManager(store, WithClock(clock.Now))
	mgr := NewTransactionalLockManager(store, WithClock(clock.Now))

	if err := direct.AcquireLock(ctx, q("a.b"), "tx1", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := mgr.AcquireLock(ctx, q("a.b.c"), "tx2", time.Minute); !IsExclusiveLockExists(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	ns, _, _ := store.GetNamespace(ctx, DefaultNamespaceURI)
	if r, _ := store.GetLockResource(ctx, ns, "a.b.c"); r != nil {
		t.Errorf("resource created by failed transactional acquire survived: %+v", r)
	}

	released, err := mgr.ReleaseLock(ctx, q("a.b"), "tx1", false)
	if err != nil || !released {
		t.Fatalf("transactional release = %v, %v", released, err)
	}
	if mgr.ReleaseLockQuiet(ctx, q("a.b"), "tx1") {
		t.Errorf("second quiet release reported success")
	}

	locks, err := mgr.GetLockState(ctx, q("a.b"))
	if err != nil || len(locks) != 2 {
		t.Fatalf("GetLockState = %v, %v", locks, err)
	}
}

func TestGetLockStateUnknown(t *testing.T) {
	mgr, store, _ := newTestManager()

	locks, err := mgr.GetLockState(ctx, q("nothing"))
	if err != nil || len(locks) != 0 {
		t.Errorf("GetLockState of unknown name = %v, %v", locks, err)
	}
	if _, ok, _ := store.GetNamespace(ctx, DefaultNamespaceURI); ok {
		t.Errorf("GetLockState created the namespace")
	}
}

// --------------------------------------------------------------------------
// Store failures (mocked)
// --------------------------------------------------------------------------

func TestAcquireWrapsLostRace(t *testing.T) {
	ctl := gomock.NewController(t)
	store := mock_lockstore.NewMockIStore(ctl)

	res := &lockstore.LockResource{ID: 1, Version: 1, NamespaceID: 1, LocalName: "x"}
	race := lockstore.NewError(lockstore.RetCConcurrentCreate, "lock 1/1 already exists")

	store.EXPECT().ResolveOrCreateNamespace(gomock.Any(), DefaultNamespaceURI).Return(int64(1), nil)
	store.EXPECT().GetLockResource(gomock.Any(), int64(1), "x").Return(res, nil).Times(2)
	store.EXPECT().GetLocksBySharedResourceIDs(gomock.Any(), []lockstore.ResourceID{1}).Return(nil, nil)
	store.EXPECT().CreateLock(gomock.Any(), lockstore.ResourceID(1), lockstore.ResourceID(1), "tx1", time.Minute).Return(nil, race)

	err := NewLockManager(store).AcquireLock(ctx, q("X"), "TX1", time.Minute)

	var lae *LockAcquisitionError
	if !errors.As(err, &lae) || lae.Kind != FailedToAcquireLock {
		t.Fatalf("expected %s, got %v", FailedToAcquireLock, err)
	}
	if !errors.Is(err, race) {
		t.Errorf("cause not preserved: %v", err)
	}
	if !IsRetryable(err) {
		t.Errorf("lost create race must be retryable")
	}
}

func TestAcquireResourceRaceConverges(t *testing.T) {
	ctl := gomock.NewController(t)
	store := mock_lockstore.NewMockIStore(ctl)

	res := &lockstore.LockResource{ID: 4, Version: 1, NamespaceID: 1, LocalName: "x"}
	gomock.InOrder(
		store.EXPECT().ResolveOrCreateNamespace(gomock.Any(), DefaultNamespaceURI).Return(int64(1), nil),
		store.EXPECT().GetLockResource(gomock.Any(), int64(1), "x").Return(nil, nil),
		store.EXPECT().CreateLockResource(gomock.Any(), int64(1), "x").
			Return(nil, lockstore.NewError(lockstore.RetCResourceAlreadyExists, "exists")),
		store.EXPECT().GetLockResource(gomock.Any(), int64(1), "x").Return(res, nil),
		store.EXPECT().GetLockResource(gomock.Any(), int64(1), "x").Return(res, nil),
		store.EXPECT().GetLocksBySharedResourceIDs(gomock.Any(), []lockstore.ResourceID{4}).Return(nil, nil),
		store.EXPECT().CreateLock(gomock.Any(), lockstore.ResourceID(4), lockstore.ResourceID(4), "tx1", time.Minute).
			Return(&lockstore.LockEntity{SharedResourceID: 4, ExclusiveResourceID: 4, LockToken: "tx1"}, nil),
	)

	if err := NewLockManager(store).AcquireLock(ctx, q("x"), "tx1", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
}

func TestAcquireStoreFailureNotRetryable(t *testing.T) {
	ctl := gomock.NewController(t)
	store := mock_lockstore.NewMockIStore(ctl)

	broken := errors.New("connection refused")
	store.EXPECT().ResolveOrCreateNamespace(gomock.Any(), gomock.Any()).Return(int64(0), broken)

	err := NewLockManager(store).AcquireLock(ctx, q("x"), "tx1", time.Minute)
	if KindOf(err) != FailedToAcquireLock || !errors.Is(err, broken) {
		t.Fatalf("expected wrapped %s, got %v", FailedToAcquireLock, err)
	}
	if IsRetryable(err) {
		t.Errorf("a broken connection is not a race")
	}
}

func TestTransactionalUsesTransactor(t *testing.T) {
	ctl := gomock.NewController(t)
	transactor := mock_lockstore.NewMockITransactor(ctl)

	inner := memstore.NewStore()
	transactor.EXPECT().Transact(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(lockstore.IStore) error) error {
			return fn(inner)
		}).Times(2)

	mgr := NewTransactionalLockManager(transactor)
	if err := mgr.AcquireLock(ctx, q("x"), "tx1", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := mgr.RefreshLock(ctx, q("x"), "tx1", time.Minute); err != nil {
		t.Fatalf("RefreshLock failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Errors and retry helpers
// --------------------------------------------------------------------------

func TestLockAcquisitionErrorIs(t *testing.T) {
	err := error(newCountError(FailedToReleaseLock, q("x"), "tx1", 2, 1))
	if !errors.Is(err, &LockAcquisitionError{Kind: FailedToReleaseLock}) {
		t.Errorf("errors.Is does not match on kind")
	}
	if errors.Is(err, &LockAcquisitionError{Kind: ExclusiveLockExists}) {
		t.Errorf("errors.Is matched a different kind")
	}
	if !strings.Contains(err.Error(), "expected=2 actual=1") {
		t.Errorf("counts missing from message: %s", err)
	}
}

func TestRetryOnRace(t *testing.T) {
	race := wrapStoreError(FailedToAcquireLock, q("x"), "tx1", lockstore.NewError(lockstore.RetCConcurrencyFailure, "stale"))

	calls := 0
	err := RetryOnRace(ctx, 5, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return race
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("RetryOnRace = %v after %d calls, want nil after 3", err, calls)
	}

	calls = 0
	err = RetryOnRace(ctx, 2, func(ctx context.Context) error {
		calls++
		return race
	})
	if !IsRetryable(err) || calls != 2 {
		t.Errorf("RetryOnRace = %v after %d calls, want race after 2", err, calls)
	}

	calls = 0
	conflict := newConflictError(q("x"), "tx1", nil)
	err = RetryOnRace(ctx, 5, func(ctx context.Context) error {
		calls++
		return conflict
	})
	if err != conflict || calls != 1 {
		t.Errorf("conflicts must not be retried: %v after %d calls", err, calls)
	}
}

func TestAcquireWait(t *testing.T) {
	store := memstore.NewStore()
	mgr := NewLockManager(store)

	if err := mgr.AcquireLock(ctx, q("job"), "holder", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		mgr.ReleaseLockQuiet(ctx, q("job"), "holder")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := AcquireWait(waitCtx, mgr, q("job"), "waiter", time.Minute); err != nil {
		t.Fatalf("AcquireWait failed: %v", err)
	}

	shortCtx, cancel2 := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel2()
	if err := AcquireWait(shortCtx, mgr, q("job"), "other", time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AcquireWait on held lock = %v, want deadline exceeded", err)
	}
}
