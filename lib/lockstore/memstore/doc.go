// Package memstore provides an in-process implementation of lockstore.IStore.
//
// The tables live in an Engine: plain maps guarded by a read-write mutex, with
// secondary indexes by shared and by exclusive resource id. Writes record undo
// entries, so a failed Engine.Apply leaves the tables untouched. Store.Transact
// uses this to run a whole lock manager operation atomically.
//
// Tables never read the clock. Start and expiry times are passed in by the
// caller, which makes the engine deterministic and lets the raft state machine
// in raftstore replicate it by replaying the same writes on every node.
//
// The engine can be saved to and restored from a binary snapshot.
package memstore
