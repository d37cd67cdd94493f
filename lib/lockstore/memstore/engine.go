package memstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"io"
	"sort"
	"sync"
	"time"
)

const snapshotVersion = 1

type resourceKey struct {
	namespaceID int64
	localName   string
}

// Tables holds the namespace, resource and lock tables of one store.
// It is not safe for concurrent use; access it through Engine.View and Engine.Apply.
//
// All times are absolute, so applying the same sequence of writes to two empty
// Tables always yields the same content. The raft state machine relies on this.
type Tables struct {
	namespaces  map[string]int64
	resources   map[resourceKey]*lockstore.LockResource
	locks       map[lockstore.LockKey]*lockstore.LockEntity
	byShared    map[lockstore.ResourceID]map[lockstore.ResourceID]struct{}
	byExclusive map[lockstore.ResourceID]map[lockstore.ResourceID]struct{}

	nextNamespaceID int64
	nextResourceID  lockstore.ResourceID

	// undo is non-nil while a write is in progress
	undo []func()
}

func newTables() *Tables {
	return &Tables{
		namespaces:      make(map[string]int64),
		resources:       make(map[resourceKey]*lockstore.LockResource),
		locks:           make(map[lockstore.LockKey]*lockstore.LockEntity),
		byShared:        make(map[lockstore.ResourceID]map[lockstore.ResourceID]struct{}),
		byExclusive:     make(map[lockstore.ResourceID]map[lockstore.ResourceID]struct{}),
		nextNamespaceID: 1,
		nextResourceID:  1,
	}
}

func (t *Tables) record(fn func()) {
	if t.undo != nil {
		t.undo = append(t.undo, fn)
	}
}

func (t *Tables) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// --------------------------------------------------------------------------
// Namespaces
// --------------------------------------------------------------------------

// GetNamespace returns the id of uri.
func (t *Tables) GetNamespace(uri string) (int64, bool) {
	id, ok := t.namespaces[uri]
	return id, ok
}

// ResolveNamespace returns the id of uri and creates it if needed.
func (t *Tables) ResolveNamespace(uri string) int64 {
	if id, ok := t.namespaces[uri]; ok {
		return id
	}
	id := t.nextNamespaceID
	t.nextNamespaceID++
	t.namespaces[uri] = id
	t.record(func() {
		delete(t.namespaces, uri)
		t.nextNamespaceID--
	})
	return id
}

// --------------------------------------------------------------------------
// Lock resources
// --------------------------------------------------------------------------

// GetResource returns a copy of the resource or nil.
func (t *Tables) GetResource(namespaceID int64, localName string) *lockstore.LockResource {
	r, ok := t.resources[resourceKey{namespaceID, localName}]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// CreateResource inserts a new resource. It fails with RetCResourceAlreadyExists
// if the name is taken.
func (t *Tables) CreateResource(namespaceID int64, localName string) (*lockstore.LockResource, error) {
	key := resourceKey{namespaceID, localName}
	if _, ok := t.resources[key]; ok {
		return nil, lockstore.NewError(lockstore.RetCResourceAlreadyExists,
			fmt.Sprintf("lock resource %d:%s already exists", namespaceID, localName))
	}
	r := &lockstore.LockResource{
		ID:          t.nextResourceID,
		Version:     1,
		NamespaceID: namespaceID,
		LocalName:   localName,
	}
	t.nextResourceID++
	t.resources[key] = r
	t.record(func() {
		delete(t.resources, key)
		t.nextResourceID--
	})
	cp := *r
	return &cp, nil
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

// GetLock returns a copy of the row or nil.
func (t *Tables) GetLock(shared, exclusive lockstore.ResourceID) *lockstore.LockEntity {
	l, ok := t.locks[lockstore.LockKey{Shared: shared, Exclusive: exclusive}]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

// GetLocksByShared returns copies of all rows with one of the given shared ids.
// The result is ordered by (shared, exclusive) so repeated calls are stable.
func (t *Tables) GetLocksByShared(ids []lockstore.ResourceID) []*lockstore.LockEntity {
	seen := make(map[lockstore.ResourceID]struct{}, len(ids))
	var result []*lockstore.LockEntity
	for _, shared := range ids {
		if _, dup := seen[shared]; dup {
			continue
		}
		seen[shared] = struct{}{}
		for exclusive := range t.byShared[shared] {
			cp := *t.locks[lockstore.LockKey{Shared: shared, Exclusive: exclusive}]
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SharedResourceID != result[j].SharedResourceID {
			return result[i].SharedResourceID < result[j].SharedResourceID
		}
		return result[i].ExclusiveResourceID < result[j].ExclusiveResourceID
	})
	return result
}

// CreateLock inserts a new row. It fails with RetCConcurrentCreate if the pair exists.
func (t *Tables) CreateLock(shared, exclusive lockstore.ResourceID, token string, start, expiry time.Time) (*lockstore.LockEntity, error) {
	key := lockstore.LockKey{Shared: shared, Exclusive: exclusive}
	if _, ok := t.locks[key]; ok {
		return nil, lockstore.NewError(lockstore.RetCConcurrentCreate,
			fmt.Sprintf("lock %d/%d already exists", shared, exclusive))
	}
	l := &lockstore.LockEntity{
		SharedResourceID:    shared,
		ExclusiveResourceID: exclusive,
		Version:             1,
		LockToken:           token,
		StartTime:           start,
		ExpiryTime:          expiry,
	}
	t.insertLock(l)
	t.record(func() { t.removeLock(key) })
	cp := *l
	return &cp, nil
}

// UpdateLock rewrites one row if its version still equals expectedVersion.
func (t *Tables) UpdateLock(key lockstore.LockKey, expectedVersion int64, token string, start, expiry time.Time) (*lockstore.LockEntity, error) {
	l, ok := t.locks[key]
	if !ok {
		return nil, lockstore.NewError(lockstore.RetCConcurrencyFailure,
			fmt.Sprintf("lock %d/%d does not exist", key.Shared, key.Exclusive))
	}
	if l.Version != expectedVersion {
		return nil, lockstore.NewError(lockstore.RetCConcurrencyFailure,
			fmt.Sprintf("lock %d/%d has version %d, expected %d", key.Shared, key.Exclusive, l.Version, expectedVersion))
	}
	t.rewrite(l, token, start, expiry)
	cp := *l
	return &cp, nil
}

// UpdateLocks rewrites every row of the exclusive resource holding oldToken.
func (t *Tables) UpdateLocks(exclusive lockstore.ResourceID, oldToken, newToken string, start, expiry time.Time) int {
	count := 0
	for shared := range t.byExclusive[exclusive] {
		l := t.locks[lockstore.LockKey{Shared: shared, Exclusive: exclusive}]
		if l.LockToken != oldToken {
			continue
		}
		t.rewrite(l, newToken, start, expiry)
		count++
	}
	return count
}

func (t *Tables) rewrite(l *lockstore.LockEntity, token string, start, expiry time.Time) {
	old := *l
	l.Version++
	l.LockToken = token
	l.StartTime = start
	l.ExpiryTime = expiry
	t.record(func() { *l = old })
}

func (t *Tables) insertLock(l *lockstore.LockEntity) {
	key := l.Key()
	t.locks[key] = l
	if t.byShared[key.Shared] == nil {
		t.byShared[key.Shared] = make(map[lockstore.ResourceID]struct{})
	}
	t.byShared[key.Shared][key.Exclusive] = struct{}{}
	if t.byExclusive[key.Exclusive] == nil {
		t.byExclusive[key.Exclusive] = make(map[lockstore.ResourceID]struct{})
	}
	t.byExclusive[key.Exclusive][key.Shared] = struct{}{}
}

func (t *Tables) removeLock(key lockstore.LockKey) {
	delete(t.locks, key)
	delete(t.byShared[key.Shared], key.Exclusive)
	if len(t.byShared[key.Shared]) == 0 {
		delete(t.byShared, key.Shared)
	}
	delete(t.byExclusive[key.Exclusive], key.Shared)
	if len(t.byExclusive[key.Exclusive]) == 0 {
		delete(t.byExclusive, key.Exclusive)
	}
}

// Stats returns the number of namespaces, resources and lock rows.
func (t *Tables) Stats() (namespaces, resources, locks int) {
	return len(t.namespaces), len(t.resources), len(t.locks)
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine guards a set of Tables with a read-write mutex.
// Readers run concurrently, writers are serialized and atomic.
type Engine struct {
	mu     sync.RWMutex
	tables *Tables
}

// NewEngine creates an engine with empty tables.
func NewEngine() *Engine {
	return &Engine{tables: newTables()}
}

// View runs fn with shared access. fn must not modify the tables.
func (e *Engine) View(fn func(t *Tables) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.tables)
}

// Apply runs fn with exclusive access. If fn returns an error every change made
// by fn is undone before Apply returns.
func (e *Engine) Apply(fn func(t *Tables) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tables.undo = make([]func(), 0, 8)
	defer func() { e.tables.undo = nil }()

	if err := fn(e.tables); err != nil {
		e.tables.rollback()
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Save writes the full content of the engine to w.
// Format (big endian): version(1) | nextNS(8) | nextRes(8) | nsCount(4) | {id(8) uriLen(4) uri}
// | resCount(4) | {resource} | lockCount(4) | {lock}
func (e *Engine) Save(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t := e.tables

	bw := bufio.NewWriter(w)
	write := func(v any) error { return binary.Write(bw, binary.BigEndian, v) }
	writeBlob := func(b []byte) error {
		if err := write(uint32(len(b))); err != nil {
			return err
		}
		_, err := bw.Write(b)
		return err
	}

	if err := write(uint8(snapshotVersion)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := write(t.nextNamespaceID); err != nil {
		return err
	}
	if err := write(int64(t.nextResourceID)); err != nil {
		return err
	}

	if err := write(uint32(len(t.namespaces))); err != nil {
		return err
	}
	for uri, id := range t.namespaces {
		if err := write(id); err != nil {
			return err
		}
		if err := writeBlob([]byte(uri)); err != nil {
			return err
		}
	}

	if err := write(uint32(len(t.resources))); err != nil {
		return err
	}
	for _, r := range t.resources {
		if err := writeBlob(lockstore.EncodeResource(r)); err != nil {
			return err
		}
	}

	if err := write(uint32(len(t.locks))); err != nil {
		return err
	}
	for _, l := range t.locks {
		if err := writeBlob(lockstore.EncodeLock(l)); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content of the engine with a snapshot written by Save.
func (e *Engine) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	read := func(v any) error { return binary.Read(br, binary.BigEndian, v) }
	readBlob := func() ([]byte, error) {
		var n uint32
		if err := read(&n); err != nil {
			return nil, err
		}
		b := make([]byte, n)
		_, err := io.ReadFull(br, b)
		return b, err
	}

	var version uint8
	if err := read(&version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}

	t := newTables()
	var nextRes int64
	if err := read(&t.nextNamespaceID); err != nil {
		return err
	}
	if err := read(&nextRes); err != nil {
		return err
	}
	t.nextResourceID = lockstore.ResourceID(nextRes)

	var count uint32
	if err := read(&count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var id int64
		if err := read(&id); err != nil {
			return err
		}
		uri, err := readBlob()
		if err != nil {
			return err
		}
		t.namespaces[string(uri)] = id
	}

	if err := read(&count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		b, err := readBlob()
		if err != nil {
			return err
		}
		res, err := lockstore.DecodeResource(b)
		if err != nil {
			return err
		}
		t.resources[resourceKey{res.NamespaceID, res.LocalName}] = res
	}

	if err := read(&count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		b, err := readBlob()
		if err != nil {
			return err
		}
		l, err := lockstore.DecodeLock(b)
		if err != nil {
			return err
		}
		t.insertLock(l)
	}

	e.mu.Lock()
	e.tables = t
	e.mu.Unlock()
	return nil
}
