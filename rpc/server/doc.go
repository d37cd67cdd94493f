// Package server implements the RPC server of dLock. Every configured shard is
// an independent lock service: a lockstore.IStore backend plus the
// lockmgr.ILockManager running on it, reachable through one transport.
//
// Key Components:
//
//   - IRPCServerAdapter: translates request messages into lock manager calls and
//     the results, including typed lock errors, back into response messages.
//
//   - RPCServer: creates the shards, routes requests by shard id and serves the
//     lock metrics in the Prometheus format on the optional metrics endpoint.
//
// Shard types:
//
//   - mem: in-process tables, lost on restart.
//   - sql: SQLite or PostgreSQL through sqlstore. At most one per server.
//   - redis: a Redis server through redisstore, keys prefixed with "dlock:<shard>".
//   - raft: tables replicated with dragonboat. Needs ReplicaID, ClusterMembers and
//     the other Raft settings.
//
// Backends that support transactions (mem, sql) get the transactional lock
// manager, so an acquire either writes all of its rows or none.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Type: common.ShardTypeMemory},
//	    {ShardID: 2, Type: common.ShardTypeRedis},
//	  },
//	  RedisURL:      "redis://localhost:6379/0",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
