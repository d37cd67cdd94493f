package server

import (
	"context"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle executes the request against the lock manager of a shard and
	// returns the response. Errors are carried in the response, never returned.
	Handle(ctx context.Context, req *common.Message, locks lockmgr.ILockManager) (resp *common.Message)
}
