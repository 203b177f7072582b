package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute).(*memoryCache)
	c.now = func() time.Time { return now }

	_, ok, err := c.Get(ctx, "dns:a.example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "dns:a.example.com", "192.0.2.1", 0))
	require.NoError(t, c.Set(ctx, "dns:b.example.com", "192.0.2.2", 5*time.Minute))

	value, ok, err := c.Get(ctx, "dns:a.example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.1", value)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "dns:a.example.com")
	assert.False(t, ok, "default ttl elapsed")
	_, ok, _ = c.Get(ctx, "dns:b.example.com")
	assert.True(t, ok, "explicit ttl still valid")

	require.NoError(t, c.Close())
	_, ok, _ = c.Get(ctx, "dns:b.example.com")
	assert.False(t, ok)
}

func TestMemoryCacheWithoutTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestMemoryCacheConcurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			assert.NoError(t, c.Set(ctx, key, key, 0))
			value, ok, err := c.Get(ctx, key)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, key, value)
		}(i)
	}
	wg.Wait()
}
