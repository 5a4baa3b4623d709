package snippet

import (
	"sync"
	"testing"
	"time"
)

func TestCacheKey_DiffersOnFileSignatureOrKnobs(t *testing.T) {
	sig1 := FileSig{MtimeNs: 1, Size: 10}
	sig2 := FileSig{MtimeNs: 2, Size: 10}
	k := DefaultKnobs()

	k1 := CacheKey("a.go", 1, 10, "q", false, false, nil, sig1, k)
	k2 := CacheKey("a.go", 1, 10, "q", false, false, nil, sig2, k)
	if k1 == k2 {
		t.Error("expected a changed file signature to change the cache key")
	}

	k3 := CacheKey("a.go", 1, 10, "q", false, false, nil, sig1, k)
	if k1 != k3 {
		t.Error("expected identical inputs to produce an identical cache key")
	}

	k2mod := k
	k2mod.PerHitChars = 1
	k4 := CacheKey("a.go", 1, 10, "q", false, false, nil, sig1, k2mod)
	if k1 == k4 {
		t.Error("expected a changed knob to change the cache key")
	}
}

func TestCache_GetMissThenPutThenHit(t *testing.T) {
	c := NewCache(time.Minute, 16, 0)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected a miss before any Put")
	}
	c.Put("k", Result{Header: "h", LineStart: 1, LineEnd: 2})
	got, ok := c.Get("k")
	if !ok || got.Header != "h" {
		t.Errorf("expected a cache hit with the stored value, got %+v ok=%v", got, ok)
	}
}

func TestCache_ZeroTTLDisablesCaching(t *testing.T) {
	c := NewCache(0, 16, 0)
	c.Put("k", Result{Header: "h"})
	if _, ok := c.Get("k"); ok {
		t.Error("ttl<=0 should disable caching entirely")
	}
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	c := NewCache(5*time.Millisecond, 16, 0)
	c.Put("k", Result{Header: "h"})
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected the entry to expire after its TTL elapsed")
	}
}

func TestCache_InvalidateFileRemovesOnlyThatFilesEntries(t *testing.T) {
	c := NewCache(time.Minute, 16, 0)
	sig := FileSig{MtimeNs: 1, Size: 1}
	k := DefaultKnobs()
	keyA := CacheKey("a.go", 1, 2, "q", false, false, nil, sig, k)
	keyB := CacheKey("b.go", 1, 2, "q", false, false, nil, sig, k)
	c.Put(keyA, Result{Header: "a"})
	c.Put(keyB, Result{Header: "b"})

	removed := c.InvalidateFile("a.go")
	if removed != 1 {
		t.Errorf("expected exactly 1 entry removed for a.go, got %d", removed)
	}
	if _, ok := c.Get(keyA); ok {
		t.Error("expected a.go's cache entry to be gone after invalidation")
	}
	if _, ok := c.Get(keyB); !ok {
		t.Error("expected b.go's cache entry to survive a.go's invalidation")
	}
}

func TestCoalesceEnter_OnlyOneLeaderPerKey(t *testing.T) {
	c := NewCache(time.Minute, 16, 0)

	leader1, _ := c.CoalesceEnter("k")
	leader2, wait2 := c.CoalesceEnter("k")

	if !leader1 {
		t.Error("expected the first caller for a key to become leader")
	}
	if leader2 {
		t.Error("expected the second concurrent caller for the same key to be a follower")
	}

	done := make(chan struct{})
	go func() {
		<-wait2
		close(done)
	}()

	c.CoalesceExit("k")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected CoalesceExit to wake the waiting follower")
	}
}

func TestCoalesceEnter_ConcurrentCallersOnlyOneBuilds(t *testing.T) {
	c := NewCache(time.Minute, 16, 0)
	var builds int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	build := func() {
		leader, wait := c.CoalesceEnter("k")
		if leader {
			mu.Lock()
			builds++
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			c.Put("k", Result{Header: "built"})
			c.CoalesceExit("k")
			return
		}
		<-wait
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			build()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if builds != 1 {
		t.Errorf("expected exactly one concurrent caller to build, %d did", builds)
	}
	if got, ok := c.Get("k"); !ok || got.Header != "built" {
		t.Errorf("expected the built result to land in the cache, got %+v ok=%v", got, ok)
	}
}
