package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/config"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Shared transport settings
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes in bytes (0 keeps the OS default).
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific options.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ShardType selects the lock store backing a shard.
type ShardType string

const (
	ShardTypeMemory ShardType = "mem"   // in-process tables
	ShardTypeSQL    ShardType = "sql"   // SQLite or PostgreSQL
	ShardTypeRedis  ShardType = "redis" // Redis server
	ShardTypeRaft   ShardType = "raft"  // replicated with dragonboat
)

// ParseShardType converts the CLI name of a shard type.
func ParseShardType(s string) (ShardType, error) {
	switch t := ShardType(strings.ToLower(strings.TrimSpace(s))); t {
	case ShardTypeMemory, ShardTypeSQL, ShardTypeRedis, ShardTypeRaft:
		return t, nil
	default:
		return "", fmt.Errorf("invalid shard type: %s (expected one of: mem, sql, redis, raft)", s)
	}
}

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the lock store backing the shard
	Type ShardType
}

// ServerTransportConfig holds the listener settings of the server.
type ServerTransportConfig struct {
	Endpoint       string
	WorkersPerConn int
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters of a dLock server.
type ServerConfig struct {
	Shards []ServerShard

	// Dragonboat parameters (raft shards)
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Backend parameters
	SQLDriver string // sqlite, pgx or postgres
	SQLDSN    string
	RedisURL  string

	// Timeout of a single lock operation
	TimeoutSecond int64

	Transport ServerTransportConfig

	// MetricsEndpoint serves /metrics in the Prometheus format (empty disables it)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// HasShardType checks if the configuration contains a shard of type t
func (c *ServerConfig) HasShardType(t ShardType) bool {
	for _, shard := range c.Shards {
		if shard.Type == t {
			return true
		}
	}
	return false
}

// Validate checks the parameters each configured shard type needs.
func (c *ServerConfig) Validate() error {
	if len(c.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}
	seen := make(map[uint64]bool)
	sqlShards := 0
	for _, shard := range c.Shards {
		if seen[shard.ShardID] {
			return fmt.Errorf("duplicate shard ID %d", shard.ShardID)
		}
		seen[shard.ShardID] = true
		if shard.Type == ShardTypeSQL {
			sqlShards++
		}
	}
	if sqlShards > 1 {
		return fmt.Errorf("at most one sql shard is supported, got %d", sqlShards)
	}
	if sqlShards == 1 && (c.SQLDriver == "" || c.SQLDSN == "") {
		return fmt.Errorf("sql shards need --sql-driver and --sql-dsn")
	}
	if c.HasShardType(ShardTypeRaft) {
		if c.ReplicaID == 0 {
			return fmt.Errorf("ReplicaID is required for raft shards")
		}
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return fmt.Errorf("no address found for replica ID %d in cluster members", c.ReplicaID)
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Workers per Connection", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if c.HasShardType(ShardTypeSQL) {
		addSection("SQL")
		addField("Driver", c.SQLDriver)
	}
	if c.HasShardType(ShardTypeRedis) {
		addSection("Redis")
		addField("URL", c.RedisURL)
	}

	if c.HasShardType(ShardTypeRaft) {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the connection settings of a client.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// ReplicaIDFromName maps a replica name (e.g. "node-1") to the numeric replica
// ID used by dragonboat. The FNV-1a hash keeps the mapping stable across nodes.
func ReplicaIDFromName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
