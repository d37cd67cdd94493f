package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var log = logger.GetLogger("store")

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements lockstore.IStore and lockstore.ITransactor on a relational
// database. Outside of Transact every method runs in its own implicit
// transaction.
type Store struct {
	db          *sql.DB
	q           querier
	dialect     goqu.DialectWrapper
	dialectName string
	inTx        bool
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of lock start and expiry times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on db using the given goqu dialect (DialectSQLite or
// DialectPostgres) and creates the lock tables if needed.
func New(ctx context.Context, db *sql.DB, dialect string, opts ...Option) (*Store, error) {
	if err := createSchema(ctx, db, dialect); err != nil {
		return nil, err
	}
	s := &Store{
		db:          db,
		q:           db,
		dialect:     goqu.Dialect(dialect),
		dialectName: dialect,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Debugf("sql lock store ready (dialect %s)", dialect)
	return s, nil
}

// DialectForDriver maps a database/sql driver name to the dialect it speaks.
func DialectForDriver(driver string) (string, error) {
	switch driver {
	case "sqlite":
		return DialectSQLite, nil
	case "pgx", "postgres":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q (supported: sqlite, pgx, postgres)", driver)
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transact runs fn in a database transaction. The transaction is committed if
// fn returns nil and rolled back otherwise.
func (s *Store) Transact(ctx context.Context, fn func(tx lockstore.IStore) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lockstore.WrapError(lockstore.RetCInternalError, "failed to begin transaction", err)
	}

	txStore := *s
	txStore.q = tx
	txStore.inTx = true

	if err := fn(&txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warningf("rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return lockstore.WrapError(lockstore.RetCConcurrentCreate, "commit lost a creation race", err)
		}
		return lockstore.WrapError(lockstore.RetCInternalError, "failed to commit transaction", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// times returns start and expiry in unix milliseconds.
func (s *Store) times(ttl time.Duration) (int64, int64) {
	start := s.now().UnixMilli()
	return start, start + ttl.Milliseconds()
}

// guarded runs an insert inside a savepoint when in a transaction, so a
// constraint violation does not abort the surrounding transaction.
func (s *Store) guarded(ctx context.Context, fn func() error) error {
	if !s.inTx {
		return fn()
	}
	if _, err := s.q.ExecContext(ctx, "SAVEPOINT dlock_insert"); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := s.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT dlock_insert"); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := s.q.ExecContext(ctx, "RELEASE SAVEPOINT dlock_insert")
	return err
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (s *Store) exec(ctx context.Context, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return s.q.ExecContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, b sqlBuilder) (*sql.Row, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return s.q.QueryRowContext(ctx, query, args...), nil
}

var lockColumns = []any{"shared_resource_id", "exclusive_resource_id", "version", "lock_token", "start_time", "expiry_time"}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLock(row rowScanner) (*lockstore.LockEntity, error) {
	var (
		shared, exclusive, version, start, expiry int64
		token                                     string
	)
	if err := row.Scan(&shared, &exclusive, &version, &token, &start, &expiry); err != nil {
		return nil, err
	}
	return &lockstore.LockEntity{
		SharedResourceID:    lockstore.ResourceID(shared),
		ExclusiveResourceID: lockstore.ResourceID(exclusive),
		Version:             version,
		LockToken:           token,
		StartTime:           time.UnixMilli(start),
		ExpiryTime:          time.UnixMilli(expiry),
	}, nil
}

func internalError(msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return lockstore.WrapError(lockstore.RetCInternalError, msg, err)
}

// --------------------------------------------------------------------------
// Namespaces
// --------------------------------------------------------------------------

func (s *Store) GetNamespace(ctx context.Context, uri string) (int64, bool, error) {
	row, err := s.queryRow(ctx, s.dialect.From(tableNamespace).
		Select("id").
		Where(goqu.Ex{"uri": uri}).
		Prepared(true))
	if err != nil {
		return 0, false, internalError("failed to build namespace query", err)
	}
	var id int64
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, internalError("failed to read namespace", err)
	}
	return id, true, nil
}

func (s *Store) ResolveOrCreateNamespace(ctx context.Context, uri string) (int64, error) {
	if id, ok, err := s.GetNamespace(ctx, uri); err != nil || ok {
		return id, err
	}

	err := s.guarded(ctx, func() error {
		_, err := s.exec(ctx, s.dialect.Insert(tableNamespace).
			Rows(goqu.Record{"uri": uri}).
			Prepared(true))
		return err
	})
	if err != nil && !isUniqueViolation(err) {
		return 0, internalError("failed to create namespace", err)
	}

	// read back our row or the row of whoever won the race
	id, ok, err := s.GetNamespace(ctx, uri)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, lockstore.NewError(lockstore.RetCInternalError, fmt.Sprintf("namespace %s vanished after insert", uri))
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Lock resources
// --------------------------------------------------------------------------

func (s *Store) GetLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	row, err := s.queryRow(ctx, s.dialect.From(tableResource).
		Select("id", "version").
		Where(goqu.Ex{"namespace_id": namespaceID, "local_name": localName}).
		Prepared(true))
	if err != nil {
		return nil, internalError("failed to build resource query", err)
	}
	r := &lockstore.LockResource{NamespaceID: namespaceID, LocalName: localName}
	var id int64
	switch err := row.Scan(&id, &r.Version); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, internalError("failed to read lock resource", err)
	}
	r.ID = lockstore.ResourceID(id)
	return r, nil
}

func (s *Store) CreateLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	err := s.guarded(ctx, func() error {
		_, err := s.exec(ctx, s.dialect.Insert(tableResource).
			Rows(goqu.Record{"version": 1, "namespace_id": namespaceID, "local_name": localName}).
			Prepared(true))
		return err
	})
	if isUniqueViolation(err) {
		return nil, lockstore.WrapError(lockstore.RetCResourceAlreadyExists,
			fmt.Sprintf("lock resource %d:%s already exists", namespaceID, localName), err)
	}
	if err != nil {
		return nil, internalError("failed to create lock resource", err)
	}

	r, err := s.GetLockResource(ctx, namespaceID, localName)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, lockstore.NewError(lockstore.RetCInternalError,
			fmt.Sprintf("lock resource %d:%s vanished after insert", namespaceID, localName))
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

func (s *Store) GetLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID) (*lockstore.LockEntity, error) {
	row, err := s.queryRow(ctx, s.dialect.From(tableLock).
		Select(lockColumns...).
		Where(goqu.Ex{
			"shared_resource_id":    int64(sharedResourceID),
			"exclusive_resource_id": int64(exclusiveResourceID),
		}).
		Prepared(true))
	if err != nil {
		return nil, internalError("failed to build lock query", err)
	}
	l, err := scanLock(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, internalError("failed to read lock", err)
	}
	return l, nil
}

func (s *Store) GetLocksBySharedResourceIDs(ctx context.Context, ids []lockstore.ResourceID) ([]*lockstore.LockEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	query, args, err := s.dialect.From(tableLock).
		Select(lockColumns...).
		Where(goqu.Ex{"shared_resource_id": raw}).
		Order(goqu.C("shared_resource_id").Asc(), goqu.C("exclusive_resource_id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, internalError("failed to build lock query", err)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalError("failed to read locks", err)
	}
	defer rows.Close()

	var locks []*lockstore.LockEntity
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, internalError("failed to scan lock", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, internalError("failed to read locks", err)
	}
	return locks, nil
}

func (s *Store) CreateLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID, lockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	start, expiry := s.times(ttl)
	err := s.guarded(ctx, func() error {
		_, err := s.exec(ctx, s.dialect.Insert(tableLock).
			Rows(goqu.Record{
				"shared_resource_id":    int64(sharedResourceID),
				"exclusive_resource_id": int64(exclusiveResourceID),
				"version":               1,
				"lock_token":            lockToken,
				"start_time":            start,
				"expiry_time":           expiry,
			}).
			Prepared(true))
		return err
	})
	if isUniqueViolation(err) {
		return nil, lockstore.WrapError(lockstore.RetCConcurrentCreate,
			fmt.Sprintf("lock %d/%d already exists", sharedResourceID, exclusiveResourceID), err)
	}
	if err != nil {
		return nil, internalError("failed to create lock", err)
	}
	return &lockstore.LockEntity{
		SharedResourceID:    sharedResourceID,
		ExclusiveResourceID: exclusiveResourceID,
		Version:             1,
		LockToken:           lockToken,
		StartTime:           time.UnixMilli(start),
		ExpiryTime:          time.UnixMilli(expiry),
	}, nil
}

func (s *Store) UpdateLock(ctx context.Context, lock *lockstore.LockEntity, newLockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	start, expiry := s.times(ttl)
	res, err := s.exec(ctx, s.dialect.Update(tableLock).
		Set(goqu.Record{
			"version":     lock.Version + 1,
			"lock_token":  newLockToken,
			"start_time":  start,
			"expiry_time": expiry,
		}).
		Where(goqu.Ex{
			"shared_resource_id":    int64(lock.SharedResourceID),
			"exclusive_resource_id": int64(lock.ExclusiveResourceID),
			"version":               lock.Version,
		}).
		Prepared(true))
	if err != nil {
		return nil, internalError("failed to update lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, internalError("failed to read update count", err)
	}
	if n != 1 {
		return nil, lockstore.NewError(lockstore.RetCConcurrencyFailure,
			fmt.Sprintf("lock %d/%d was modified concurrently (expected version %d)",
				lock.SharedResourceID, lock.ExclusiveResourceID, lock.Version))
	}

	updated := *lock
	updated.Version++
	updated.LockToken = newLockToken
	updated.StartTime = time.UnixMilli(start)
	updated.ExpiryTime = time.UnixMilli(expiry)
	return &updated, nil
}

func (s *Store) UpdateLocks(ctx context.Context, exclusiveResourceID lockstore.ResourceID, oldLockToken, newLockToken string, ttl time.Duration) (int, error) {
	start, expiry := s.times(ttl)
	res, err := s.exec(ctx, s.dialect.Update(tableLock).
		Set(goqu.Record{
			"version":     goqu.L("version + 1"),
			"lock_token":  newLockToken,
			"start_time":  start,
			"expiry_time": expiry,
		}).
		Where(goqu.Ex{
			"exclusive_resource_id": int64(exclusiveResourceID),
			"lock_token":            oldLockToken,
		}).
		Prepared(true))
	if err != nil {
		return 0, internalError("failed to update locks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, internalError("failed to read update count", err)
	}
	return int(n), nil
}
