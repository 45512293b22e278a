package querycache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(capacity int, ttl time.Duration) *Cache {
	return New(Config{Capacity: capacity, TTL: ttl, CleanupInterval: time.Hour})
}

func TestCachePutGet(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	vector := []float32{0.1, 0.2, 0.3}
	c.Put("deadline for the contract", vector, "text-embedding-3-small")

	entry, ok := c.Get("deadline for the contract")
	require.True(t, ok)
	assert.Equal(t, vector, entry.Vector)
	assert.Equal(t, "text-embedding-3-small", entry.Model)
	assert.Equal(t, "deadline for the contract", entry.QueryText)
	assert.Equal(t, Key("deadline for the contract"), entry.QueryHash)
	// The put itself counts as the first hit.
	assert.Equal(t, int64(2), entry.HitCount)

	_, ok = c.Get("some other query")
	assert.False(t, ok)
}

func TestCacheHitCountIncrements(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	c.Put("q", []float32{1}, "m")
	for i := 1; i <= 3; i++ {
		entry, ok := c.Get("q")
		require.True(t, ok)
		assert.Equal(t, int64(i+1), entry.HitCount)
	}
}

func TestCacheReturnsCopy(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	c.Put("q", []float32{1, 2}, "m")
	entry, ok := c.Get("q")
	require.True(t, ok)
	entry.Vector[0] = 99

	again, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestCacheExpiration(t *testing.T) {
	c := newTestCache(10, 10*time.Millisecond)
	defer c.Close()

	c.Put("q", []float32{1}, "m")
	_, ok := c.Get("q")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("q")
	assert.False(t, ok)
}

func TestCacheEvictExpired(t *testing.T) {
	c := newTestCache(10, 10*time.Millisecond)
	defer c.Close()

	c.Put("a", []float32{1}, "m")
	c.Put("b", []float32{2}, "m")
	time.Sleep(20 * time.Millisecond)
	c.Put("c", []float32{3}, "m")

	assert.Equal(t, 2, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
}

func TestCacheLRUEviction(t *testing.T) {
	c := newTestCache(3, time.Minute)
	defer c.Close()

	c.Put("a", []float32{1}, "m")
	c.Put("b", []float32{2}, "m")
	c.Put("c", []float32{3}, "m")

	// Touch "a" so "b" becomes the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", []float32{4}, "m")
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
}

func TestCachePutUpdatesExisting(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	c.Put("q", []float32{1}, "old-model")
	c.Put("q", []float32{2}, "new-model")

	entry, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, entry.Vector)
	assert.Equal(t, "new-model", entry.Model)
	// Overwriting restarts the count at the put's own hit.
	assert.Equal(t, int64(2), entry.HitCount)
	assert.Equal(t, 1, c.Len())
}

func TestKeyIsStable(t *testing.T) {
	assert.Equal(t, Key("hello"), Key("hello"))
	assert.NotEqual(t, Key("hello"), Key("Hello"))
	assert.Len(t, Key("hello"), 64)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(100, time.Minute)
	defer c.Close()

	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				query := fmt.Sprintf("query-%d", i%20)
				c.Put(query, []float32{float32(w), float32(i)}, "m")
				c.Get(query)
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}
	assert.LessOrEqual(t, c.Len(), 20)
}
