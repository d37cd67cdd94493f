// Package lockstore defines the persistence contract of the lock manager.
//
// The package focuses on:
//   - The value types LockResource (a permanent name identity) and LockEntity
//     (one row of the lock table, keyed by shared and exclusive resource id)
//   - The ILockStore and INamespaceResolver interfaces every backend implements
//   - The store error taxonomy, which turns lost races into typed errors
//   - The lock resource registry (GetOrCreateLockResource)
//
// Key Components:
//
//   - IStore Interface: lock tables plus namespace resolution. Backends must
//     enforce unique (namespace, local name) resources and unique (shared,
//     exclusive) lock rows and must check the version of a row on update.
//
//   - Error System: every backend reports failures as *Error with a RetCode.
//     RetCResourceAlreadyExists, RetCConcurrentCreate and RetCConcurrencyFailure
//     mark lost races; IsRace tells them apart from real failures.
//
//   - ITransactor: optional. Backends that can group several calls into one
//     atomic unit implement it.
//
// Implementations:
//
//	- memstore: in-process maps with an undo log, supports transactions
//	- sqlstore: SQLite or PostgreSQL through database/sql, supports transactions
//	- redisstore: Redis with optimistic WATCH/MULTI updates
//	- raftstore: replicated over dragonboat, built on the memstore engine
//
// All of them pass the shared suite in lockstore/testing.
package lockstore
