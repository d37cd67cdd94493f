package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/ValentinKolb/dLock/rpc/common"
)

func NewLockManagerServerAdapter() IRPCServerAdapter {
	return &lockMgrServerAdapter{}
}

type lockMgrServerAdapter struct{}

func (adapter *lockMgrServerAdapter) Handle(ctx context.Context, req *common.Message, locks lockmgr.ILockManager) (resp *common.Message) {
	if locks == nil {
		return common.NewErrorResponse("handler: lock manager is nil")
	}

	qname, err := lockmgr.ParseQName(req.Key)
	if err != nil {
		return common.NewResponse(req, false, nil, err)
	}

	switch req.MsgType {
	case common.MsgTLCKAcquire:
		err := locks.AcquireLock(ctx, qname, req.Token, req.TTL())
		return common.NewResponse(req, err == nil, nil, err)
	case common.MsgTLCKRefresh:
		err := locks.RefreshLock(ctx, qname, req.Token, req.TTL())
		return common.NewResponse(req, err == nil, nil, err)
	case common.MsgTLCKRelease:
		released, err := locks.ReleaseLock(ctx, qname, req.Token, req.Optimistic)
		return common.NewResponse(req, released, nil, err)
	case common.MsgTLCKReleaseQuiet:
		released := locks.ReleaseLockQuiet(ctx, qname, req.Token)
		return common.NewResponse(req, released, nil, nil)
	case common.MsgTLCKStatus:
		rows, err := locks.GetLockState(ctx, qname)
		if err != nil {
			return common.NewResponse(req, false, nil, err)
		}
		return common.NewResponse(req, true, lockstore.EncodeLocks(rows), nil)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockManagerAdapter - Unsupported message type: %s", req.MsgType))
	}
}
