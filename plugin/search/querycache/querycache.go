// Package querycache caches query-text embeddings so repeated searches skip
// the embedding round trip. Entries are keyed by the SHA-256 of the query
// text, evicted LRU at capacity and expired by TTL.
package querycache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the maximum number of cached queries.
	DefaultCapacity = 1000
	// DefaultTTL is the default entry lifetime.
	DefaultTTL = 15 * time.Minute
	// DefaultCleanupInterval is how often expired entries are swept.
	DefaultCleanupInterval = time.Minute
)

// Entry is one cached query embedding. HitCount starts at 1 when the entry
// is stored and increments on every Get.
type Entry struct {
	QueryHash  string
	QueryText  string
	Vector     []float32
	Model      string
	HitCount   int64
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// Config configures the cache.
type Config struct {
	Capacity        int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Cache is an LRU cache with TTL for query embeddings. All operations are
// safe for concurrent use.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List // front = most recently used

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Key returns the cache key for a query text.
func Key(queryText string) string {
	sum := sha256.Sum256([]byte(queryText))
	return hex.EncodeToString(sum[:])
}

// New creates a cache and starts its background cleanup.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
		cancel:   cancel,
	}

	c.wg.Add(1)
	go c.cleanupLoop(ctx, cfg.CleanupInterval)

	return c
}

// Close stops the background cleanup.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

// Get returns the cached embedding for the query text, bumping the entry's
// recency and hit count. Expired entries are dropped on access.
func (c *Cache) Get(queryText string) (*Entry, bool) {
	key := Key(queryText)

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	entry := element.Value.(*Entry)
	if time.Now().After(entry.ExpiresAt) {
		c.order.Remove(element)
		delete(c.cache, key)
		return nil, false
	}

	entry.HitCount++
	entry.LastUsedAt = time.Now()
	c.order.MoveToFront(element)

	copied := *entry
	copied.Vector = append([]float32(nil), entry.Vector...)
	return &copied, true
}

// Put stores the embedding for a query text, evicting the least recently
// used entry when at capacity.
func (c *Cache) Put(queryText string, vector []float32, model string) {
	key := Key(queryText)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.cache[key]; ok {
		entry := element.Value.(*Entry)
		entry.Vector = append([]float32(nil), vector...)
		entry.Model = model
		entry.HitCount = 1
		entry.LastUsedAt = now
		entry.ExpiresAt = now.Add(c.ttl)
		c.order.MoveToFront(element)
		return
	}

	for len(c.cache) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*Entry).QueryHash)
	}

	// A stored entry counts as its own first hit.
	entry := &Entry{
		QueryHash:  key,
		QueryText:  queryText,
		Vector:     append([]float32(nil), vector...),
		Model:      model,
		HitCount:   1,
		LastUsedAt: now,
		ExpiresAt:  now.Add(c.ttl),
	}
	c.cache[key] = c.order.PushFront(entry)
}

// EvictExpired removes every expired entry and returns the count removed.
func (c *Cache) EvictExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, element := range c.cache {
		if now.After(element.Value.(*Entry).ExpiresAt) {
			c.order.Remove(element)
			delete(c.cache, key)
			count++
		}
	}
	return count
}

// Len returns the number of live entries, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Cache) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}
