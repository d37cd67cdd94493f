package redisstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
	"sort"
	"strconv"
	"time"
)

const (
	defaultPrefix   = "dlock"
	bulkRetries     = 16
	defaultRedisURL = "redis://localhost:6379"
)

var log = logger.GetLogger("store")

// errRetry is returned from a watched function whose view of the index changed.
var errRetry = errors.New("index changed")

// Store implements lockstore.IStore on Redis.
//
// Key layout (with the default prefix "dlock"):
//
//	dlock:ns                  hash  uri -> namespace id
//	dlock:ns:seq              counter
//	dlock:res                 hash  "<namespace id>:<local name>" -> resource id
//	dlock:res:seq             counter
//	dlock:lock:<shared>:<ex>  hash  version, token, start, expiry
//	dlock:shared:<shared>     set   exclusive ids with a row on this shared id
//	dlock:excl:<ex>           set   shared ids with a row of this exclusive id
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the prefix of all keys, so several stores can share a database.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock replaces time.Now as the source of lock start and expiry times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store on an existing client.
func NewStore(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the Redis server at url (redis://host:port/db) and checks
// the connection.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	if url == "" {
		url = defaultRedisURL
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewStore(client, opts...), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// --------------------------------------------------------------------------
// Keys and encoding
// --------------------------------------------------------------------------

func (s *Store) nsKey() string       { return s.prefix + ":ns" }
func (s *Store) nsSeqKey() string    { return s.prefix + ":ns:seq" }
func (s *Store) resKey() string      { return s.prefix + ":res" }
func (s *Store) resSeqKey() string   { return s.prefix + ":res:seq" }
func (s *Store) resField(ns int64, name string) string {
	return strconv.FormatInt(ns, 10) + ":" + name
}
func (s *Store) lockKey(shared, exclusive lockstore.ResourceID) string {
	return fmt.Sprintf("%s:lock:%d:%d", s.prefix, shared, exclusive)
}
func (s *Store) sharedIdxKey(shared lockstore.ResourceID) string {
	return fmt.Sprintf("%s:shared:%d", s.prefix, shared)
}
func (s *Store) exclIdxKey(exclusive lockstore.ResourceID) string {
	return fmt.Sprintf("%s:excl:%d", s.prefix, exclusive)
}

func (s *Store) times(ttl time.Duration) (int64, int64) {
	start := s.now().UnixMilli()
	return start, start + ttl.Milliseconds()
}

func lockFields(version int64, token string, start, expiry int64) map[string]any {
	return map[string]any{
		"version": version,
		"token":   token,
		"start":   start,
		"expiry":  expiry,
	}
}

// parseLock builds a lock from the fields of its hash. It returns nil for an
// empty hash.
func parseLock(shared, exclusive lockstore.ResourceID, fields map[string]string) (*lockstore.LockEntity, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lock %d/%d: bad version: %w", shared, exclusive, err)
	}
	start, err := strconv.ParseInt(fields["start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lock %d/%d: bad start: %w", shared, exclusive, err)
	}
	expiry, err := strconv.ParseInt(fields["expiry"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lock %d/%d: bad expiry: %w", shared, exclusive, err)
	}
	return &lockstore.LockEntity{
		SharedResourceID:    shared,
		ExclusiveResourceID: exclusive,
		Version:             version,
		LockToken:           fields["token"],
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

func parseIDs(members []string) ([]lockstore.ResourceID, error) {
	ids := make([]lockstore.ResourceID, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad resource id %q: %w", m, err)
		}
		ids = append(ids, lockstore.ResourceID(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// --------------------------------------------------------------------------
// Namespaces
// --------------------------------------------------------------------------

func (s *Store) GetNamespace(ctx context.Context, uri string) (int64, bool, error) {
	id, err := s.client.HGet(ctx, s.nsKey(), uri).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, internalError("failed to read namespace", err)
	}
	return id, true, nil
}

func (s *Store) ResolveOrCreateNamespace(ctx context.Context, uri string) (int64, error) {
	if id, ok, err := s.GetNamespace(ctx, uri); err != nil || ok {
		return id, err
	}
	id, err := s.client.Incr(ctx, s.nsSeqKey()).Result()
	if err != nil {
		return 0, internalError("failed to allocate namespace id", err)
	}
	created, err := s.client.HSetNX(ctx, s.nsKey(), uri, id).Result()
	if err != nil {
		return 0, internalError("failed to create namespace", err)
	}
	if created {
		return id, nil
	}
	// lost the race, use the winner's id
	id, ok, err := s.GetNamespace(ctx, uri)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, lockstore.NewError(lockstore.RetCInternalError, fmt.Sprintf("namespace %s vanished", uri))
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Lock resources
// --------------------------------------------------------------------------

func (s *Store) GetLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	id, err := s.client.HGet(ctx, s.resKey(), s.resField(namespaceID, localName)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, internalError("failed to read lock resource", err)
	}
	return &lockstore.LockResource{
		ID:          lockstore.ResourceID(id),
		Version:     1,
		NamespaceID: namespaceID,
		LocalName:   localName,
	}, nil
}

func (s *Store) CreateLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	id, err := s.client.Incr(ctx, s.resSeqKey()).Result()
	if err != nil {
		return nil, internalError("failed to allocate resource id", err)
	}
	created, err := s.client.HSetNX(ctx, s.resKey(), s.resField(namespaceID, localName), id).Result()
	if err != nil {
		return nil, internalError("failed to create lock resource", err)
	}
	if !created {
		return nil, lockstore.NewError(lockstore.RetCResourceAlreadyExists,
			fmt.Sprintf("lock resource %d:%s already exists", namespaceID, localName))
	}
	return &lockstore.LockResource{
		ID:          lockstore.ResourceID(id),
		Version:     1,
		NamespaceID: namespaceID,
		LocalName:   localName,
	}, nil
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

func (s *Store) GetLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID) (*lockstore.LockEntity, error) {
	fields, err := s.client.HGetAll(ctx, s.lockKey(sharedResourceID, exclusiveResourceID)).Result()
	if err != nil {
		return nil, internalError("failed to read lock", err)
	}
	l, err := parseLock(sharedResourceID, exclusiveResourceID, fields)
	if err != nil {
		return nil, internalError("failed to parse lock", err)
	}
	return l, nil
}

func (s *Store) GetLocksBySharedResourceIDs(ctx context.Context, ids []lockstore.ResourceID) ([]*lockstore.LockEntity, error) {
	type pending struct {
		shared, exclusive lockstore.ResourceID
		cmd               *redis.MapStringStringCmd
	}

	seen := make(map[lockstore.ResourceID]struct{}, len(ids))
	var reads []pending
	for _, shared := range ids {
		if _, dup := seen[shared]; dup {
			continue
		}
		seen[shared] = struct{}{}

		members, err := s.client.SMembers(ctx, s.sharedIdxKey(shared)).Result()
		if err != nil {
			return nil, internalError("failed to read lock index", err)
		}
		exclusives, err := parseIDs(members)
		if err != nil {
			return nil, internalError("failed to parse lock index", err)
		}
		for _, ex := range exclusives {
			reads = append(reads, pending{shared: shared, exclusive: ex})
		}
	}
	if len(reads) == 0 {
		return nil, nil
	}

	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i := range reads {
			reads[i].cmd = p.HGetAll(ctx, s.lockKey(reads[i].shared, reads[i].exclusive))
		}
		return nil
	})
	if err != nil {
		return nil, internalError("failed to read locks", err)
	}

	locks := make([]*lockstore.LockEntity, 0, len(reads))
	for _, r := range reads {
		l, err := parseLock(r.shared, r.exclusive, r.cmd.Val())
		if err != nil {
			return nil, internalError("failed to parse lock", err)
		}
		if l != nil {
			locks = append(locks, l)
		}
	}
	return locks, nil
}

func (s *Store) CreateLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID, lockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	key := s.lockKey(sharedResourceID, exclusiveResourceID)
	start, expiry := s.times(ttl)
	exists := lockstore.NewError(lockstore.RetCConcurrentCreate,
		fmt.Sprintf("lock %d/%d already exists", sharedResourceID, exclusiveResourceID))

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return exists
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, lockFields(1, lockToken, start, expiry))
			p.SAdd(ctx, s.sharedIdxKey(sharedResourceID), int64(exclusiveResourceID))
			p.SAdd(ctx, s.exclIdxKey(exclusiveResourceID), int64(sharedResourceID))
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, exists):
		return nil, lockstore.WrapError(lockstore.RetCConcurrentCreate,
			fmt.Sprintf("lock %d/%d already exists", sharedResourceID, exclusiveResourceID), err)
	default:
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
	key := s.lockKey(lock.SharedResourceID, lock.ExclusiveResourceID)
	start, expiry := s.times(ttl)
	stale := lockstore.NewError(lockstore.RetCConcurrencyFailure,
		fmt.Sprintf("lock %d/%d was modified concurrently (expected version %d)",
			lock.SharedResourceID, lock.ExclusiveResourceID, lock.Version))

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		version, err := tx.HGet(ctx, key, "version").Int64()
		if errors.Is(err, redis.Nil) {
			return stale
		}
		if err != nil {
			return err
		}
		if version != lock.Version {
			return stale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, lockFields(version+1, newLockToken, start, expiry))
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		return nil, lockstore.WrapError(lockstore.RetCConcurrencyFailure, stale.Msg, err)
	case errors.Is(err, stale):
		return nil, stale
	default:
		return nil, internalError("failed to update lock", err)
	}

	updated := *lock
	updated.Version++
	updated.LockToken = newLockToken
	updated.StartTime = time.UnixMilli(start)
	updated.ExpiryTime = time.UnixMilli(expiry)
	return &updated, nil
}

// UpdateLocks watches the exclusive index and every row of it, so the rows are
// rewritten in one MULTI block. A concurrent change restarts the attempt.
func (s *Store) UpdateLocks(ctx context.Context, exclusiveResourceID lockstore.ResourceID, oldLockToken, newLockToken string, ttl time.Duration) (int, error) {
	idxKey := s.exclIdxKey(exclusiveResourceID)
	start, expiry := s.times(ttl)

	for attempt := 0; attempt < bulkRetries; attempt++ {
		members, err := s.client.SMembers(ctx, idxKey).Result()
		if err != nil {
			return 0, internalError("failed to read lock index", err)
		}
		shareds, err := parseIDs(members)
		if err != nil {
			return 0, internalError("failed to parse lock index", err)
		}

		keys := make([]string, 0, len(shareds)+1)
		keys = append(keys, idxKey)
		for _, shared := range shareds {
			keys = append(keys, s.lockKey(shared, exclusiveResourceID))
		}

		count := 0
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.SCard(ctx, idxKey).Result()
			if err != nil {
				return err
			}
			if int(n) != len(shareds) {
				return errRetry
			}

			type match struct {
				key     string
				version int64
			}
			var matches []match
			for _, key := range keys[1:] {
				vals, err := tx.HMGet(ctx, key, "version", "token").Result()
				if err != nil {
					return err
				}
				token, _ := vals[1].(string)
				if token != oldLockToken {
					continue
				}
				versionStr, _ := vals[0].(string)
				version, err := strconv.ParseInt(versionStr, 10, 64)
				if err != nil {
					return fmt.Errorf("bad version in %s: %w", key, err)
				}
				matches = append(matches, match{key: key, version: version})
			}
			if len(matches) == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for _, m := range matches {
					p.HSet(ctx, m.key, lockFields(m.version+1, newLockToken, start, expiry))
				}
				return nil
			})
			if err == nil {
				count = len(matches)
			}
			return err
		}, keys...)

		switch {
		case err == nil:
			return count, nil
		case errors.Is(err, redis.TxFailedErr), errors.Is(err, errRetry):
			log.Debugf("bulk update of exclusive resource %d raced, retrying (%d/%d)", exclusiveResourceID, attempt+1, bulkRetries)
			continue
		default:
			return 0, internalError("failed to update locks", err)
		}
	}
	return 0, lockstore.NewError(lockstore.RetCConcurrencyFailure,
		fmt.Sprintf("bulk update of exclusive resource %d kept racing", exclusiveResourceID))
}
