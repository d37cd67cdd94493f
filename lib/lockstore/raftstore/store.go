package raftstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/raftstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"time"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// INodeHost is the part of *dragonboat.NodeHost the store talks to.
type INodeHost interface {
	GetNoOPSession(shardID uint64) *client.Session
	SyncPropose(ctx context.Context, session *client.Session, cmd []byte) (sm.Result, error)
	SyncRead(ctx context.Context, shardID uint64, query interface{}) (interface{}, error)
	StaleRead(shardID uint64, query interface{}) (interface{}, error)
}

// storeImpl implements lockstore.IStore on top of a LockStateMachine shard.
type storeImpl struct {
	nh      INodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	now     func() time.Time
}

// Option configures the store.
type Option func(*storeImpl)

// WithClock replaces time.Now as the source of lock start and expiry times.
func WithClock(now func() time.Time) Option {
	return func(s *storeImpl) {
		s.now = now
	}
}

// NewDistributedStore creates a store backed by the raft shard shardID. nh is
// usually a *dragonboat.NodeHost on which the shard was started with
// CreateStateMachineFactory.
func NewDistributedStore(nh INodeHost, shardID uint64, timeout time.Duration, opts ...Option) lockstore.IStore {
	s := &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write proposes cmd and returns the result data of the state machine.
// It returns a *lockstore.Error if the command failed.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) ([]byte, error) {
	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(pctx, s.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, lockstore.WrapError(lockstore.RetCInternalError, "propose failed", err)
		}
		if res.Value != uint64(lockstore.RetCSuccess) {
			return nil, lockstore.NewError(lockstore.RetCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, lockstore.NewError(lockstore.RetCInternalError, "timeout")
}

// read queries the state machine and converts the response into R.
//
// SyncRead is used unless stale is set, in which case the faster StaleRead
// returns the local, possibly outdated state.
func read[R any](s *storeImpl, ctx context.Context, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			rctx, cancel := context.WithTimeout(ctx, s.timeout)
			res, err = s.nh.SyncRead(rctx, s.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			var se *lockstore.Error
			if errors.As(err, &se) {
				return zero, se
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, lockstore.WrapError(lockstore.RetCInternalError, "read failed", err)
		}

		casted, ok := res.(R)
		if !ok {
			return zero, lockstore.NewError(lockstore.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, lockstore.NewError(lockstore.RetCInternalError, "timeout")
}

func (s *storeImpl) times(ttl time.Duration) (int64, int64) {
	start := s.now().UnixMilli()
	return start, start + ttl.Milliseconds()
}

// --------------------------------------------------------------------------
// Interface Methods (docs see lockstore/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) GetNamespace(ctx context.Context, uri string) (int64, bool, error) {
	res, err := read[internal.NamespaceResult](s, ctx, internal.Query{
		Type: internal.QueryTGetNamespace,
		Name: uri,
	}, false)
	return res.ID, res.Ok, err
}

func (s *storeImpl) ResolveOrCreateNamespace(ctx context.Context, uri string) (int64, error) {
	if id, ok, err := s.GetNamespace(ctx, uri); err != nil || ok {
		return id, err
	}
	data, err := s.write(ctx, internal.Command{
		Type: internal.CommandTResolveNamespace,
		Name: uri,
	})
	if err != nil {
		return 0, err
	}
	return decodeInt(data)
}

func (s *storeImpl) GetLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	return read[*lockstore.LockResource](s, ctx, internal.Query{
		Type:        internal.QueryTGetResource,
		NamespaceID: namespaceID,
		Name:        localName,
	}, false)
}

func (s *storeImpl) CreateLockResource(ctx context.Context, namespaceID int64, localName string) (*lockstore.LockResource, error) {
	data, err := s.write(ctx, internal.Command{
		Type:        internal.CommandTCreateResource,
		NamespaceID: namespaceID,
		Name:        localName,
	})
	if err != nil {
		return nil, err
	}
	return lockstore.DecodeResource(data)
}

func (s *storeImpl) GetLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID) (*lockstore.LockEntity, error) {
	return read[*lockstore.LockEntity](s, ctx, internal.Query{
		Type:      internal.QueryTGetLock,
		Shared:    sharedResourceID,
		Exclusive: exclusiveResourceID,
	}, false)
}

func (s *storeImpl) GetLocksBySharedResourceIDs(ctx context.Context, ids []lockstore.ResourceID) ([]*lockstore.LockEntity, error) {
	return read[[]*lockstore.LockEntity](s, ctx, internal.Query{
		Type: internal.QueryTGetLocksByShared,
		IDs:  ids,
	}, false)
}

func (s *storeImpl) CreateLock(ctx context.Context, sharedResourceID, exclusiveResourceID lockstore.ResourceID, lockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	start, expiry := s.times(ttl)
	data, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTCreateLock,
		Shared:    int64(sharedResourceID),
		Exclusive: int64(exclusiveResourceID),
		Start:     start,
		Expiry:    expiry,
		Token:     lockToken,
	})
	if err != nil {
		return nil, err
	}
	return lockstore.DecodeLock(data)
}

func (s *storeImpl) UpdateLock(ctx context.Context, lock *lockstore.LockEntity, newLockToken string, ttl time.Duration) (*lockstore.LockEntity, error) {
	start, expiry := s.times(ttl)
	data, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTUpdateLock,
		Shared:    int64(lock.SharedResourceID),
		Exclusive: int64(lock.ExclusiveResourceID),
		Version:   lock.Version,
		Start:     start,
		Expiry:    expiry,
		Token:     newLockToken,
	})
	if err != nil {
		return nil, err
	}
	return lockstore.DecodeLock(data)
}

func (s *storeImpl) UpdateLocks(ctx context.Context, exclusiveResourceID lockstore.ResourceID, oldLockToken, newLockToken string, ttl time.Duration) (int, error) {
	start, expiry := s.times(ttl)
	data, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTUpdateLocks,
		Exclusive: int64(exclusiveResourceID),
		Start:     start,
		Expiry:    expiry,
		Token:     newLockToken,
		OldToken:  oldLockToken,
	})
	if err != nil {
		return 0, err
	}
	n, err := decodeInt(data)
	return int(n), err
}
