package resolver

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	if _, ok, _ := c.Get(ctx, "alice.eth"); ok {
		t.Fatalf("empty cache hit")
	}
	_ = c.Set(ctx, "alice.eth", alice)
	if addr, ok, _ := c.Get(ctx, "alice.eth"); !ok || addr != alice || c.Len() != 1 {
		t.Fatalf("cache miss after set")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("DEFIFLOW_REDIS_ADDR")
	if addr == "" {
		t.Skip("DEFIFLOW_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache, err := NewRedisCache(client, "defiflow:test:"+uuid.NewString()+":", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	if _, ok, err := cache.Get(ctx, "alice.eth"); ok || err != nil {
		t.Fatalf("unexpected hit: %v", err)
	}
	if err := cache.Set(ctx, "alice.eth", alice); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "alice.eth")
	if err != nil || !ok || got != alice {
		t.Fatalf("Get = %s %v %v", got.Hex(), ok, err)
	}
}
