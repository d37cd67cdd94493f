// Package rpc is the network layer of dLock. It lets processes on other hosts
// use the lock managers of a dLock server.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: an RPC implementation of lockmgr.ILockManager.
//
//   - server: the server hosting one lock manager per shard.
package rpc
