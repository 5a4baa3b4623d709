package retrieval

import (
	"sync"
	"time"
)

// ResultCache is a short TTL `(k,query)` -> hits cache, mirroring
// _PRJ_CACHE in retrieval_core.py. The Orchestrator does not consult
// it: Retrieve and RetrieveMulti always run the stage kernels.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	at   time.Time
	hits []Hit
}

// NewResultCache builds a cache with the given TTL; ttl <= 0 disables
// caching (every lookup misses).
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func resultCacheKey(k int, query string) string {
	return itoa(k) + "|" + query
}

func (c *ResultCache) Get(k int, query string) ([]Hit, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[resultCacheKey(k, query)]
	if !ok {
		return nil, false
	}
	if time.Since(ent.at) > c.ttl {
		return nil, false
	}
	out := make([]Hit, len(ent.hits))
	copy(out, ent.hits)
	return out, true
}

func (c *ResultCache) Put(k int, query string, hits []Hit) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]Hit, len(hits))
	copy(stored, hits)
	c.entries[resultCacheKey(k, query)] = cacheEntry{at: time.Now(), hits: stored}
}
