package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how long analytics results are served from cache.
const DefaultCacheTTL = 5 * time.Minute

// Cache stores JSON-encoded analytics results.
type Cache interface {
	// Get decodes the cached value for key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// Invalidate drops every cached analytics result.
	Invalidate(ctx context.Context) error
}

// DefaultCacheSize caps MemoryCache when no size is configured.
const DefaultCacheSize = 1024

// MemoryCache is a process-local, size-bounded TTL cache.
type MemoryCache struct {
	entries *expirable.LRU[string, []byte]
}

// NewMemoryCache builds a MemoryCache holding at most size entries. A
// non-positive ttl uses DefaultCacheTTL and a non-positive size uses
// DefaultCacheSize.
func NewMemoryCache(ttl time.Duration, size int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryCache{entries: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	payload, ok := c.entries.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	c.entries.Add(key, payload)
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

type noCache struct{}

func (noCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (noCache) Set(context.Context, string, any) error         { return nil }
func (noCache) Invalidate(context.Context) error               { return nil }
