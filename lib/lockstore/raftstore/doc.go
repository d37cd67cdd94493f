// Package raftstore implements lockstore.IStore as a replicated state machine
// using the Dragonboat RAFT library.
//
// Every write (namespace creation, resource creation, lock creation, the
// versioned single row update and the bulk update of an exclusive resource) is
// encoded as an internal.Command and proposed with SyncPropose. The leader
// replicates it and each replica applies it to a LockStateMachine, whose tables
// are a memstore.Engine. The proposer computes start and expiry times, so all
// replicas store identical rows.
//
// Reads use SyncRead and are therefore linearizable. The result of a write is
// carried back in sm.Result: Value holds the lockstore.RetCode and Data the
// encoded return value (or the error message on failure).
//
// Snapshots are the binary dump of the engine (memstore.Engine.Save) and are
// restored with memstore.Engine.Load.
//
// Setup:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	err = nh.StartConcurrentReplica(members, false, raftstore.CreateStateMachineFactory(), shardConfig)
//	store := raftstore.NewDistributedStore(nh, shardID, 5*time.Second)
//
// Each operation is a separate raft entry. The store does not implement
// lockstore.ITransactor.
package raftstore
