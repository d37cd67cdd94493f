package client_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/server"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"golang.org/x/sync/errgroup"
)

// startLockService serves one mem shard on a free local port and returns a
// connected client for it.
func startLockService(t *testing.T) lockmgr.ILockManager {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	endpoint := l.Addr().String()
	l.Close()

	s := server.NewRPCServer(common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: 1, Type: common.ShardTypeMemory}},
		TimeoutSecond: 5,
		LogLevel:      "error",
		Transport:     common.ServerTransportConfig{Endpoint: endpoint, WorkersPerConn: 8},
	}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() {
		s.Close()
		<-done
	})

	config := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{endpoint},
			RetryCount: 2,
		},
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		tr := tcp.NewTCPClientTransport()
		locks, err := client.NewRPCLockMgr(1, config, tr, serializer.NewBinarySerializer())
		if err == nil {
			if _, err = locks.GetLockState(context.Background(), lockmgr.NewQName("", "probe")); err == nil {
				t.Cleanup(func() { tr.Close() })
				return locks
			}
			tr.Close()
		}
		if time.Now().After(deadline) {
			t.Fatalf("lock service did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRPCLockManager(t *testing.T) {
	locks := startLockService(t)
	ctx := context.Background()

	child := lockmgr.NewQName("urn:a", "docs.reports.q1")
	parent := lockmgr.NewQName("urn:a", "docs.reports")
	sibling := lockmgr.NewQName("urn:a", "docs.reports.q2")

	if err := locks.AcquireLock(ctx, child, "Tok-A", time.Minute); err != nil {
		t.Fatalf("acquire child: %v", err)
	}

	t.Run("sibling is independent", func(t *testing.T) {
		if err := locks.AcquireLock(ctx, sibling, "tok-b", time.Minute); err != nil {
			t.Fatalf("acquire sibling: %v", err)
		}
		if ok, err := locks.ReleaseLock(ctx, sibling, "tok-b", false); err != nil || !ok {
			t.Fatalf("release sibling: ok=%v err=%v", ok, err)
		}
	})

	t.Run("parent conflicts", func(t *testing.T) {
		err := locks.AcquireLock(ctx, parent, "tok-b", time.Minute)
		if !lockmgr.IsExclusiveLockExists(err) {
			t.Fatalf("expected ExclusiveLockExists, got %v", err)
		}
		var lae *lockmgr.LockAcquisitionError
		errors.As(err, &lae)
		if lae.LockQName != parent || lae.Token != "tok-b" {
			t.Errorf("error names %s/%s", lae.LockQName, lae.Token)
		}
		// tokens are case-insensitive
		if lae.Conflict == nil || lae.Conflict.LockToken != "tok-a" {
			t.Errorf("conflict = %+v", lae.Conflict)
		}
	})

	t.Run("refresh by holder", func(t *testing.T) {
		if err := locks.RefreshLock(ctx, child, "TOK-A", 2*time.Minute); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if err := locks.RefreshLock(ctx, child, "tok-b", time.Minute); lockmgr.KindOf(err) == 0 {
			t.Errorf("refresh by other token: expected lock error, got %v", err)
		}
	})

	t.Run("status", func(t *testing.T) {
		rows, err := locks.GetLockState(ctx, child)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		// one held row per name segment: docs, docs.reports, docs.reports.q1.
		// The released rows of the sibling share the first two segments.
		held := 0
		for _, row := range rows {
			if row.LockToken == "tok-a" {
				held++
			}
		}
		if held != 3 {
			t.Errorf("held rows = %d, want 3 (all rows: %d)", held, len(rows))
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		if err := locks.AcquireLock(ctx, child, "", time.Minute); !errors.Is(err, lockmgr.ErrInvalidToken) {
			t.Errorf("empty token: %v", err)
		}
		if err := locks.AcquireLock(ctx, child, "x", -time.Second); !errors.Is(err, lockmgr.ErrInvalidTTL) {
			t.Errorf("negative ttl: %v", err)
		}

		// "{urn:a}b}x" would reach the server as namespace urn:a, local name b}x
		braced := lockmgr.NewQName("urn:a}b", "x")
		if err := locks.AcquireLock(ctx, braced, "tok-c", time.Minute); !errors.Is(err, lockmgr.ErrInvalidQName) {
			t.Errorf("brace in namespace: %v", err)
		}
		if _, err := locks.GetLockState(ctx, braced); !errors.Is(err, lockmgr.ErrInvalidQName) {
			t.Errorf("status with brace in namespace: %v", err)
		}
		rows, err := locks.GetLockState(ctx, lockmgr.NewQName("urn:a", "b}x"))
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("rejected acquire left %d rows", len(rows))
		}

		long := lockmgr.NewQName("urn:a", strings.Repeat("l", lockmgr.MaxLocalNameLength+1))
		if err := locks.AcquireLock(ctx, long, "tok-c", time.Minute); !errors.Is(err, lockmgr.ErrInvalidQName) {
			t.Errorf("over-long local name: %v", err)
		}
	})

	t.Run("release", func(t *testing.T) {
		if locks.ReleaseLockQuiet(ctx, child, "tok-b") {
			t.Errorf("quiet release with wrong token succeeded")
		}
		if ok, err := locks.ReleaseLock(ctx, child, "tok-b", true); err != nil || ok {
			t.Errorf("optimistic release with wrong token: ok=%v err=%v", ok, err)
		}
		if ok, err := locks.ReleaseLock(ctx, child, "tok-a", false); err != nil || !ok {
			t.Fatalf("release: ok=%v err=%v", ok, err)
		}
		if err := locks.AcquireLock(ctx, parent, "tok-b", time.Minute); err != nil {
			t.Errorf("parent still blocked after release: %v", err)
		}
	})
}

func TestRPCLockManagerContention(t *testing.T) {
	locks := startLockService(t)
	ctx := context.Background()
	qname := lockmgr.NewQName("urn:a", "counter")

	// every worker either wins the lock once or sees a conflict or a lost race
	var g errgroup.Group
	winners := make(chan string, 16)
	for i := 0; i < 16; i++ {
		token := string(rune('a' + i))
		g.Go(func() error {
			err := locks.AcquireLock(ctx, qname, token, time.Minute)
			switch {
			case err == nil:
				winners <- token
			case lockmgr.IsExclusiveLockExists(err), lockmgr.IsRetryable(err):
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(winners)

	var won []string
	for w := range winners {
		won = append(won, w)
	}
	if len(won) != 1 {
		t.Fatalf("winners = %v, want exactly one", won)
	}

	rows, err := locks.GetLockState(ctx, qname)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(rows) != 1 || rows[0].LockToken != won[0] {
		t.Errorf("rows = %+v, want one row of %s", rows, won[0])
	}
}

func TestRPCLockManagerCancelledContext(t *testing.T) {
	locks := startLockService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := locks.AcquireLock(ctx, lockmgr.NewQName("", "x"), "tok", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewRPCLockMgrConnectError(t *testing.T) {
	_, err := client.NewRPCLockMgr(1, common.ClientConfig{}, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if err == nil {
		t.Errorf("expected error without endpoints")
	}
}
