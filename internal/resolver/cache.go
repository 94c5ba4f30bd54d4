package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Cache stores successful resolutions by normalised name. It only ever
// saves a network call; literals are always checked.
type Cache interface {
	Get(ctx context.Context, name string) (common.Address, bool, error)
	Set(ctx context.Context, name string, addr common.Address) error
}

// MemoryCache lives as long as the process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]common.Address
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]common.Address)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, name string) (common.Address, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.entries[name]
	return addr, ok, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, name string, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = addr
	return nil
}

// Len returns the number of cached names.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares resolutions between daemon instances. A zero TTL keeps
// entries until Redis evicts them.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "defiflow:names:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, name string) (common.Address, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	if !common.IsHexAddress(val) {
		return common.Address{}, false, nil
	}
	return common.HexToAddress(val), true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, name string, addr common.Address) error {
	return c.client.Set(ctx, c.prefix+name, addr.Hex(), c.ttl).Err()
}
