package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"telemetry-sync/internal/dedup"
	"telemetry-sync/internal/models"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestDedupSetKey(t *testing.T) {
	if got := DedupSetKey("instance-1"); got != "dedup:instance-1" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestNewRedisCache_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisCache(addr, "", 0); err == nil {
		t.Fatal("expected error for unreachable Redis")
	}
}

func TestRedisDedupStore_AddAndClear(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	store := c.DedupStore("instance-1")

	r1 := models.SensorReading{ID: "r1", Timestamp: 100}
	for i, want := range []bool{true, false, false} {
		added, err := store.Add(ctx, dedup.KeyOf(r1))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if added != want {
			t.Errorf("add %d: expected %v, got %v", i, want, added)
		}
	}

	if added, _ := store.Add(ctx, dedup.KeyOf(models.SensorReading{ID: "r1", Timestamp: 101})); !added {
		t.Error("same id with another timestamp should be a new key")
	}

	n, err := store.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 keys, got %d (%v)", n, err)
	}
	if ttl := mr.TTL(DedupSetKey("instance-1")); ttl != DefaultTTL {
		t.Errorf("expected ttl %s, got %s", DefaultTTL, ttl)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists(DedupSetKey("instance-1")) {
		t.Error("set should be deleted on clear")
	}
	if added, _ := store.Add(ctx, dedup.KeyOf(r1)); !added {
		t.Error("key should be accepted again after clear")
	}
}

func TestRedisDedupStore_SeparateInstances(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	a := c.DedupStore("instance-" + uuid.NewString())
	b := c.DedupStore("instance-" + uuid.NewString())

	key := dedup.Key("r1|100")
	if added, _ := a.Add(ctx, key); !added {
		t.Fatal("first add should succeed")
	}
	if added, _ := b.Add(ctx, key); !added {
		t.Error("stores of different instances must not share keys")
	}
}

func TestRedisDedupStore_ServerError(t *testing.T) {
	c, mr := newTestCache(t)
	store := c.DedupStore("instance-1")

	mr.SetError("LOADING Redis is loading the dataset in memory")
	if _, err := store.Add(context.Background(), "r1|100"); err == nil {
		t.Error("expected error from Add")
	}
	if err := store.Clear(context.Background()); err == nil {
		t.Error("expected error from Clear")
	}
}
