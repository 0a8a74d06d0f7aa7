package poll

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"driverlink/models"
)

type cacheEntry struct {
	orders []models.Order
	at     time.Time
}

// responseCache remembers the last response per request signature so ticks
// inside the cache window are answered without a network call.
type responseCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newResponseCache(window time.Duration) *responseCache {
	return &responseCache{
		window:  window,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// signature keys a request by method, url and body.
func signature(method, url, body string) string {
	h := fnv.New64a()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return fmt.Sprintf("%x", h.Sum64())
}

// Get returns the cached orders for key when the entry is younger than the
// cache window. Stale entries are evicted on access.
func (c *responseCache) Get(key string) ([]models.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.at) >= c.window {
		delete(c.entries, key)
		return nil, false
	}
	return entry.orders, true
}

func (c *responseCache) Put(key string, orders []models.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{orders: orders, at: c.now()}
}
