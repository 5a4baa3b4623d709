// Package snippet builds per-hit code snippets: scope resolution,
// multi-segment composition for oversized scopes, callee expansion,
// and a TTL cache with leader/follower coalescing so concurrent
// requests for the same snippet only do the work once.
package snippet

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Result is the built snippet: a one-line header and fenced code
// block, the resolved line range, and whether the body is the full
// enclosing scope (vs. a truncated window or multi-segment composite).
type Result struct {
	Header     string
	CodeBlock  string
	LineStart  int
	LineEnd    int
	FullScope  bool
}

// Knobs bundles the shaping parameters that are part of the cache key
// — any change to these invalidates previously cached snippets.
type Knobs struct {
	PerHitChars      int
	MultiSegment     bool
	HeadLines        int
	TailLines        int
	MidWindows       int
	MidAround        int
	StripComments    bool
	ScopeMaxChars    int
}

// DefaultKnobs mirrors the original's PROJ_SNIPPET_* defaults.
func DefaultKnobs() Knobs {
	return Knobs{
		PerHitChars:   4000,
		MultiSegment:  true,
		HeadLines:     12,
		TailLines:     8,
		MidWindows:    2,
		MidAround:     6,
		StripComments: false,
		ScopeMaxChars: 8000,
	}
}

// FileSig is the (mtime_ns, size) cache-invalidation signature a
// caller obtains from the embedding store's file signature lookup.
type FileSig struct {
	MtimeNs int64
	Size    int64
}

// CacheKey builds the stable, versioned cache key for a snippet build
// request, grounded on make_snippet_cache_key in snippet_cache.py.
func CacheKey(fileRel string, lineStart, lineEnd int, query string, preferFullScope, expandCallees bool, extraCenters []int, sig FileSig, k Knobs) string {
	qh := hashText(query)
	centers := dedupedSortedInts(extraCenters, 16)
	var centerParts []string
	for _, c := range centers {
		centerParts = append(centerParts, strconv.Itoa(c))
	}
	pf, xc := 0, 0
	if preferFullScope {
		pf = 1
	}
	if expandCallees {
		xc = 1
	}
	ms, sc := 0, 0
	if k.MultiSegment {
		ms = 1
	}
	if k.StripComments {
		sc = 1
	}
	return fmt.Sprintf(
		"v1|%s|%d|%d|%d|%d|%s|pf%d|xc%d|cent[%s]|knobs(%d, %d, %d, %d, %d, %d, %d, %d)",
		fileRel, sig.MtimeNs, sig.Size, lineStart, lineEnd, qh, pf, xc,
		strings.Join(centerParts, ","),
		k.PerHitChars, ms, k.HeadLines, k.TailLines, k.MidWindows, k.MidAround, sc, k.ScopeMaxChars,
	)
}

func hashText(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

func dedupedSortedInts(in []int, cap int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	if len(out) > cap {
		out = out[:cap]
	}
	return out
}

type cacheEntry struct {
	at    time.Time
	value Result
}

// Cache is the TTL snippet cache with coalescing, grounded on
// snippet_cache.py. All methods are safe for concurrent use.
type Cache struct {
	mu           sync.Mutex
	ttl          time.Duration
	maxEntries   int
	coalesceWait time.Duration
	entries      map[string]cacheEntry
	inflight     map[string]chan struct{}
}

// NewCache builds a cache. ttl <= 0 disables caching entirely (every
// Get misses and Put is a no-op), matching EMBED_PROJECT_SNIPPET_TTL_MS=0.
func NewCache(ttl time.Duration, maxEntries int, coalesceWait time.Duration) *Cache {
	if maxEntries < 16 {
		maxEntries = 16
	}
	if maxEntries > 1_000_000 {
		maxEntries = 1_000_000
	}
	return &Cache{
		ttl:          ttl,
		maxEntries:   maxEntries,
		coalesceWait: coalesceWait,
		entries:      make(map[string]cacheEntry),
		inflight:     make(map[string]chan struct{}),
	}
}

// Get returns a cached snippet for key, or (zero, false) on miss/expiry.
func (c *Cache) Get(key string) (Result, bool) {
	if c.ttl <= 0 {
		return Result{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if time.Since(ent.at) > c.ttl {
		delete(c.entries, key)
		return Result{}, false
	}
	return ent.value, true
}

// Put stores a snippet, evicting the oldest ~1/16th of entries when
// over maxEntries.
func (c *Cache) Put(key string, value Result) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{at: time.Now(), value: value}
	if len(c.entries) <= c.maxEntries {
		return
	}
	type kv struct {
		k  string
		at time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, v := range c.entries {
		all = append(all, kv{k, v.at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	evict := len(c.entries) / 16
	if evict < 1 {
		evict = 1
	}
	for i := 0; i < evict && i < len(all); i++ {
		if all[i].k == key {
			continue
		}
		delete(c.entries, all[i].k)
	}
}

// CoalesceEnter registers the caller as the leader for key (returns
// ok=true, builds the snippet itself) or a follower (ok=false, waits
// on the returned channel up to the configured coalesce window before
// re-checking the cache).
func (c *Cache) CoalesceEnter(key string) (leader bool, wait <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.inflight[key]; ok {
		return false, ch
	}
	ch := make(chan struct{})
	c.inflight[key] = ch
	return true, ch
}

// CoalesceExit releases the leader slot for key and wakes any
// followers waiting on it.
func (c *Cache) CoalesceExit(key string) {
	c.mu.Lock()
	ch, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (c *Cache) CoalesceWait() time.Duration { return c.coalesceWait }

// InvalidateFile drops every cached entry for a file and returns the
// number removed.
func (c *Cache) InvalidateFile(fileRel string) int {
	if fileRel == "" {
		return 0
	}
	prefix := "v1|" + fileRel + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// InvalidateAll clears the cache and returns the previous size.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	c.inflight = make(map[string]chan struct{})
	return n
}

// Stats reports current cache/inflight sizes for diagnostics.
func (c *Cache) Stats() (size, inflight int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), len(c.inflight)
}
