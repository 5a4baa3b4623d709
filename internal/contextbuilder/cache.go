package contextbuilder

import (
	"strconv"
	"sync"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

type graphEntry struct {
	at    time.Time
	value []HeaderBlock
}

// GraphCache is a small TTL cache over callgraph slices, keyed on file
// signature so an edited file invalidates itself automatically,
// grounded on graph_cache.py's _graph_cache/get_symbol_graph_cached.
type GraphCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]graphEntry
}

func NewGraphCache(ttl time.Duration) *GraphCache {
	return &GraphCache{ttl: ttl, m: make(map[string]graphEntry)}
}

func graphKey(fileRel string, ls, le, callersLimit, calleesLimit, around int, sig snippet.FileSig) string {
	return "v1|" + fileRel + "|" + strconv.FormatInt(sig.MtimeNs, 10) + "|" + strconv.FormatInt(sig.Size, 10) +
		"|" + strconv.Itoa(ls) + "|" + strconv.Itoa(le) + "|c" + strconv.Itoa(callersLimit) + "|e" + strconv.Itoa(calleesLimit) + "|a" + strconv.Itoa(around)
}

// GetOrBuild returns the cached graph slice for this key, or calls
// build and stores the result.
func (c *GraphCache) GetOrBuild(fileRel string, ls, le, callersLimit, calleesLimit, around int, sig snippet.FileSig, build func() []HeaderBlock) []HeaderBlock {
	if c.ttl <= 0 {
		return build()
	}
	key := graphKey(fileRel, ls, le, callersLimit, calleesLimit, around, sig)
	c.mu.Lock()
	if ent, ok := c.m[key]; ok && time.Since(ent.at) <= c.ttl {
		c.mu.Unlock()
		return ent.value
	}
	c.mu.Unlock()
	val := build()
	c.mu.Lock()
	c.m[key] = graphEntry{at: time.Now(), value: val}
	c.mu.Unlock()
	return val
}

type usagesEntry struct {
	at    time.Time
	value []GraphHit
}

// UsagesCache is the equivalent TTL cache for symbol usage lookups,
// grounded on graph_cache.py's _usages_cache/find_usages_cached.
type UsagesCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]usagesEntry
}

func NewUsagesCache(ttl time.Duration) *UsagesCache {
	return &UsagesCache{ttl: ttl, m: make(map[string]usagesEntry)}
}

func usagesKey(symbol, fileRel string, limit, around int, sig snippet.FileSig) string {
	return "v1|" + symbol + "|" + fileRel + "|" + strconv.FormatInt(sig.MtimeNs, 10) + "|" + strconv.FormatInt(sig.Size, 10) +
		"|l" + strconv.Itoa(limit) + "|a" + strconv.Itoa(around)
}

func (c *UsagesCache) GetOrBuild(symbol, fileRel string, limit, around int, sig snippet.FileSig, build func() []GraphHit) []GraphHit {
	if c.ttl <= 0 {
		return build()
	}
	key := usagesKey(symbol, fileRel, limit, around, sig)
	c.mu.Lock()
	if ent, ok := c.m[key]; ok && time.Since(ent.at) <= c.ttl {
		c.mu.Unlock()
		return ent.value
	}
	c.mu.Unlock()
	val := build()
	c.mu.Lock()
	c.m[key] = usagesEntry{at: time.Now(), value: val}
	c.mu.Unlock()
	return val
}
