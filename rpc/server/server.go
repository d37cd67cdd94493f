package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/memstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/raftstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/redisstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/sqlstore"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

// serverShard is one lock service of the RPC server: the store backing it, the
// lock manager working on the store and the adapter translating messages.
type serverShard struct {
	Store   lockstore.IStore
	Locks   lockmgr.ILockManager
	Adapter IRPCServerAdapter
}

// RPCServer serves the lock managers of all configured shards over one transport.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]

	mu            sync.Mutex
	nodeHost      *dragonboat.NodeHost
	metricsServer *http.Server
	closed        bool
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// Serve initializes the shards and blocks in the transport until Close is called
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		s.Close()
		return err
	}
	Logger.Infof("Listening on %s (%s serializer)", s.config.Transport.Endpoint, s.serializer.Name())
	return s.transport.Listen(s.config)
}

// Close stops the transport and the metrics endpoint, then releases every store
func (s *RPCServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	errs := []error{s.transport.Close()}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.metricsServer.Shutdown(ctx))
		cancel()
	}

	s.shards.Range(func(id uint64, shard serverShard) bool {
		if closer, ok := shard.Store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
			}
		}
		s.shards.Delete(id)
		return true
	})

	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}

	Logger.Infof("RPC server closed")
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handle is the transport handler: it decodes the request, lets the shard's
// adapter run it and encodes the response.
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var resp *common.Message

	if shard, ok := s.shards.Load(shardId); !ok {
		resp = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		ctx, cancel := s.requestContext()
		resp = shard.Adapter.Handle(ctx, &msg, shard.Locks)
		cancel()
	}

	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) requestContext() (context.Context, context.CancelFunc) {
	if s.config.TimeoutSecond > 0 {
		return context.WithTimeout(context.Background(), time.Duration(s.config.TimeoutSecond)*time.Second)
	}
	return context.WithCancel(context.Background())
}

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())

	ctx, cancel := s.requestContext()
	defer cancel()

	// the NodeHost is shared by all raft shards
	if s.config.HasShardType(common.ShardTypeRaft) {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.mu.Lock()
		s.nodeHost = nh
		s.mu.Unlock()
	}

	for _, shardConfig := range s.config.Shards {
		store, err := s.createStore(ctx, shardConfig)
		if err != nil {
			return fmt.Errorf("shard %d: %w", shardConfig.ShardID, err)
		}
		s.addShard(shardConfig.ShardID, store)
		Logger.Infof("created %s lock manager for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	if s.config.MetricsEndpoint != "" {
		s.startMetrics()
	}

	s.transport.RegisterHandler(s.handle)
	Logger.Infof("dLock setup completed successfully")
	return nil
}

// createStore opens the backend of a shard
func (s *RPCServer) createStore(ctx context.Context, shard common.ServerShard) (lockstore.IStore, error) {
	switch shard.Type {
	case common.ShardTypeMemory:
		return memstore.NewStore(), nil
	case common.ShardTypeSQL:
		return sqlstore.Open(ctx, s.config.SQLDriver, s.config.SQLDSN)
	case common.ShardTypeRedis:
		return redisstore.Open(ctx, s.config.RedisURL, redisstore.WithPrefix(fmt.Sprintf("dlock:%d", shard.ShardID)))
	case common.ShardTypeRaft:
		if s.nodeHost == nil {
			return nil, fmt.Errorf("node host is nil, cannot create raft shard")
		}
		if err := s.nodeHost.StartConcurrentReplica(
			s.config.ClusterMembers, false,
			raftstore.CreateStateMachineFactory(),
			s.config.ToDragonboatConfig(shard.ShardID),
		); err != nil {
			return nil, fmt.Errorf("failed to start replica: %w", err)
		}
		timeout := time.Duration(s.config.TimeoutSecond) * time.Second
		return raftstore.NewDistributedStore(s.nodeHost, shard.ShardID, timeout), nil
	default:
		return nil, fmt.Errorf("invalid shard type: %s", shard.Type)
	}
}

// addShard registers a store and picks the lock manager for it. Stores that can
// run transactions get the transactional manager.
func (s *RPCServer) addShard(id uint64, store lockstore.IStore) {
	var locks lockmgr.ILockManager
	if transactor, ok := store.(lockstore.ITransactor); ok {
		locks = lockmgr.NewTransactionalLockManager(transactor)
	} else {
		locks = lockmgr.NewLockManager(store)
	}
	s.shards.Store(id, serverShard{
		Store:   store,
		Locks:   locks,
		Adapter: NewLockManagerServerAdapter(),
	})
}

// startMetrics exposes the lock metrics in the Prometheus text format
func (s *RPCServer) startMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	server := &http.Server{
		Addr:              s.config.MetricsEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.metricsServer = server
	s.mu.Unlock()

	go func() {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
}
