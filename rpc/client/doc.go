// Package client implements the RPC client of dLock: a lockmgr.ILockManager
// whose operations run on the lock manager of a remote server shard.
//
// Errors reported by the server are rebuilt on the client. A lock conflict is a
// *lockmgr.LockAcquisitionError carrying the conflicting row, a lost race stays
// retryable for lockmgr.IsRetryable and invalid arguments match the lockmgr
// sentinel errors with errors.Is.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	locks, err := client.NewRPCLockMgr(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//
//	qname := lockmgr.NewQName("urn:jobs", "nightly.export")
//	if err := locks.AcquireLock(ctx, qname, token, 30*time.Second); err != nil {
//	  return err
//	}
//	defer locks.ReleaseLockQuiet(ctx, qname, token)
//
// Thread Safety:
//
//	The client is safe for concurrent use by multiple goroutines.
package client
