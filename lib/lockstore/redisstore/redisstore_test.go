package redisstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	lockstoretesting "github.com/ValentinKolb/dLock/lib/lockstore/testing"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// every store gets its own key prefix on the shared server
	var n atomic.Int64
	lockstoretesting.RunLockStoreTests(t, "Redis", func() (lockstore.IStore, error) {
		return NewStore(client, WithPrefix(fmt.Sprintf("test%d", n.Add(1)))), nil
	})
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := Open(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.ResolveOrCreateNamespace(ctx, "urn:a"); err != nil {
		t.Fatalf("ResolveOrCreateNamespace failed: %v", err)
	}
	if !mr.Exists("dlock:ns") {
		t.Errorf("namespace hash not written under the default prefix")
	}

	if _, err := Open(ctx, "not a url"); err == nil {
		t.Errorf("expected error for bad url")
	}
}

func TestUpdateLockDetectsForeignWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	store := NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()

	lock, err := store.CreateLock(ctx, 1, 1, "tx1", time.Minute)
	if err != nil {
		t.Fatalf("CreateLock failed: %v", err)
	}

	// bump the version behind the store's back
	mr.HSet(store.lockKey(1, 1), "version", "7")

	if _, err := store.UpdateLock(ctx, lock, "tx2", time.Minute); !lockstore.IsConcurrencyFailure(err) {
		t.Errorf("expected ConcurrencyFailure, got %v", err)
	}
}

func TestCorruptLockHash(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	store := NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()

	mr.HSet(store.lockKey(2, 3), "version", "x", "token", "tx1", "start", "0", "expiry", "0")
	if _, err := store.GetLock(ctx, 2, 3); lockstore.CodeOf(err) != lockstore.RetCInternalError {
		t.Errorf("expected internal error for corrupt hash, got %v", err)
	}
}
