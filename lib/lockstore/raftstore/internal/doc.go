// Package internal defines the raft log entries (Command) and the read requests
// (Query) of the lock state machine.
//
// Commands are written to the raft log and therefore have a compact binary
// encoding. Queries are passed to the state machine in memory and returned
// results are plain Go values (*lockstore.LockResource, *lockstore.LockEntity,
// []*lockstore.LockEntity, NamespaceResult, Stats).
package internal
