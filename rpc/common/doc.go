// Package common holds the pieces shared by the RPC server, the RPC client and
// the CLI: the message protocol, the configuration structs and the logger.
//
// Key Components:
//
//   - Message: request and response of every lock operation (acquire, refresh,
//     release, quiet release, status). Errors travel as text plus an ErrorKind,
//     so AsError can rebuild a *lockmgr.LockAcquisitionError on the client.
//
//   - MessageType: the supported operations and the control messages.
//
//   - ServerConfig: shards and their backend (mem, sql, redis, raft), RAFT
//     parameters, transport and metrics settings. Converts to Dragonboat's
//     NodeHostConfig and Config.
//
//   - ClientConfig: endpoints, timeouts, retries and socket options.
//
//   - Logger: implementation of Dragonboat's logger.ILogger with the format
//     "LEVEL | name | message", installed by InitLoggers.
package common
