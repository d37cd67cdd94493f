package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"time"
)

// NewRPCLockMgr connects the transport and returns a lockmgr.ILockManager that
// runs every operation on the lock manager of the given server shard.
func NewRPCLockMgr(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcLockMgr{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcLockMgr struct {
	rpcClientAdapter
}

// wireName validates qname before it is sent as "{uri}local", so a name that
// would parse differently on the server never leaves the client.
func wireName(qname lockmgr.QName) (string, error) {
	if err := qname.Validate(); err != nil {
		return "", err
	}
	return qname.String(), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcLockMgr) AcquireLock(ctx context.Context, qname lockmgr.QName, token string, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s is negative", lockmgr.ErrInvalidTTL, ttl)
	}
	name, err := wireName(qname)
	if err != nil {
		return err
	}
	_, err = i.invoke(ctx, common.NewAcquireRequest(name, token, ttl))
	return err
}

func (i *rpcLockMgr) RefreshLock(ctx context.Context, qname lockmgr.QName, token string, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s is negative", lockmgr.ErrInvalidTTL, ttl)
	}
	name, err := wireName(qname)
	if err != nil {
		return err
	}
	_, err = i.invoke(ctx, common.NewRefreshRequest(name, token, ttl))
	return err
}

func (i *rpcLockMgr) ReleaseLock(ctx context.Context, qname lockmgr.QName, token string, optimistic bool) (bool, error) {
	name, err := wireName(qname)
	if err != nil {
		return false, err
	}
	resp, err := i.invoke(ctx, common.NewReleaseRequest(name, token, optimistic))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcLockMgr) ReleaseLockQuiet(ctx context.Context, qname lockmgr.QName, token string) bool {
	name, err := wireName(qname)
	if err != nil {
		Logger.Debugf("quiet release of %s rejected: %v", qname, err)
		return false
	}
	resp, err := i.invoke(ctx, common.NewReleaseQuietRequest(name, token))
	if err != nil {
		Logger.Debugf("quiet release of %s failed: %v", qname, err)
		return false
	}
	return resp.Ok
}

func (i *rpcLockMgr) GetLockState(ctx context.Context, qname lockmgr.QName) ([]*lockstore.LockEntity, error) {
	name, err := wireName(qname)
	if err != nil {
		return nil, err
	}
	resp, err := i.invoke(ctx, common.NewStatusRequest(name))
	if err != nil {
		return nil, err
	}
	return lockstore.DecodeLocks(resp.Value)
}
