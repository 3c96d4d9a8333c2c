package cms

import (
	"sync"
	"time"

	"finitefield.org/university-web/internal/localize"
)

type cacheEntry struct {
	page    Page
	entity  localize.Record
	expires time.Time
}

// responseCache holds normalized responses keyed by request URL and language.
type responseCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cacheEntry
	now   func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	if ttl <= 0 {
		return nil
	}
	return &responseCache{
		ttl:   ttl,
		items: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

func (c *responseCache) get(key string) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return cacheEntry{}, false
	}
	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *responseCache) storePage(key string, page Page) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry{page: clonePage(page), expires: c.now().Add(c.ttl)}
}

func (c *responseCache) storeEntity(key string, rec localize.Record) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry{entity: rec, expires: c.now().Add(c.ttl)}
}

func (c *responseCache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.items = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// clonePage copies the record slice; records themselves are treated as read-only.
func clonePage(src Page) Page {
	dst := src
	if src.Records != nil {
		dst.Records = make([]localize.Record, len(src.Records))
		copy(dst.Records, src.Records)
	}
	return dst
}
