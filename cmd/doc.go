// Package cmd implements the command-line interface of dLock. It provides
// commands for running a lock server and for talking to one as a client.
//
// Subpackages:
//
//   - lock: client commands (acquire, refresh, release, status, perf)
//   - serve: starts a server with one or more lock shards
//   - util: shared flag and configuration handling (internal use)
//
// See dlock -help for a list of all commands.
package cmd
