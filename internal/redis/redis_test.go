package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/kv"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return &Client{rdb: rdb, prefix: "nudge", logger: zap.NewNop()}, mr
}

func TestKVStore_SetGetDelete(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewKVStore(client)
	ctx := context.Background()

	if _, err := store.Get(ctx, "ledger:dailyShowUp"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "ledger:dailyShowUp", []byte(`{"notificationId":"n1"}`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if !mr.Exists("nudge:ledger:dailyShowUp") {
		t.Fatal("expected key to be namespaced with prefix")
	}

	got, err := store.Get(ctx, "ledger:dailyShowUp")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != `{"notificationId":"n1"}` {
		t.Errorf("unexpected value %s", got)
	}

	if err := store.Delete(ctx, "ledger:dailyShowUp"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "ledger:dailyShowUp"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewLock(client, "reconcile", time.Minute, zap.NewNop())
	ctx := context.Background()

	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	if _, err := lock.Acquire(ctx); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	release()

	release2, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	release2()
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewLock(client, "reconcile", 30*time.Second, zap.NewNop())
	ctx := context.Background()

	if _, err := lock.Acquire(ctx); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	mr.FastForward(31 * time.Second)

	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("expected lock to be free after ttl, got %v", err)
	}
	release()
}
