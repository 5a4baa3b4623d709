package retrieval

import (
	"testing"
	"time"
)

func TestResultCache_HitAfterPut(t *testing.T) {
	c := NewResultCache(time.Minute)
	hits := []Hit{{Score: 1, FileRel: "a.go"}}
	c.Put(5, "widget handler", hits)

	got, ok := c.Get(5, "widget handler")
	if !ok {
		t.Fatal("expected cache hit after Put")
	}
	if len(got) != 1 || got[0].FileRel != "a.go" {
		t.Errorf("unexpected cached hits: %+v", got)
	}
}

func TestResultCache_MissOnDifferentKOrQuery(t *testing.T) {
	c := NewResultCache(time.Minute)
	c.Put(5, "widget handler", []Hit{{FileRel: "a.go"}})

	if _, ok := c.Get(6, "widget handler"); ok {
		t.Error("expected miss for a different k (cache key is (k,query))")
	}
	if _, ok := c.Get(5, "other query"); ok {
		t.Error("expected miss for a different query")
	}
}

func TestResultCache_ExpiresAfterTTL(t *testing.T) {
	c := NewResultCache(time.Millisecond)
	c.Put(5, "widget handler", []Hit{{FileRel: "a.go"}})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(5, "widget handler"); ok {
		t.Error("expected cache entry to expire after its TTL elapsed")
	}
}

func TestResultCache_ZeroTTLDisablesCaching(t *testing.T) {
	c := NewResultCache(0)
	c.Put(5, "widget handler", []Hit{{FileRel: "a.go"}})

	if _, ok := c.Get(5, "widget handler"); ok {
		t.Error("ttl<=0 should disable caching entirely")
	}
}

func TestResultCache_GetReturnsACopyNotTheStoredSlice(t *testing.T) {
	c := NewResultCache(time.Minute)
	c.Put(1, "q", []Hit{{FileRel: "a.go"}})

	got, _ := c.Get(1, "q")
	got[0].FileRel = "mutated.go"

	again, _ := c.Get(1, "q")
	if again[0].FileRel != "a.go" {
		t.Error("Get should return a defensive copy; caller mutation leaked into the cache")
	}
}
