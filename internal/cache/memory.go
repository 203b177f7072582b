package cache

import (
	"context"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache returns a process-local cache. Expired entries are
// dropped when read.
func NewMemoryCache(ttl time.Duration) core.Cache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists {
		return "", false, nil
	}

	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current.expires.Equal(entry.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key. A zero ttl falls back to the cache default;
// a zero default never expires.
func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
