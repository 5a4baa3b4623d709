package contextbuilder

import (
	"testing"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

func TestGraphCache_ReusesCachedValueForSameKey(t *testing.T) {
	c := NewGraphCache(time.Minute)
	sig := snippet.FileSig{MtimeNs: 100, Size: 50}
	calls := 0
	build := func() []HeaderBlock {
		calls++
		return []HeaderBlock{{Header: "caller"}}
	}

	first := c.GetOrBuild("a.go", 1, 10, 5, 5, 3, sig, build)
	second := c.GetOrBuild("a.go", 1, 10, 5, 5, 3, sig, build)

	if calls != 1 {
		t.Errorf("expected build to run exactly once for identical keys, ran %d times", calls)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Errorf("expected both calls to return the cached value, got %v / %v", first, second)
	}
}

func TestGraphCache_InvalidatesOnFileSignatureChange(t *testing.T) {
	c := NewGraphCache(time.Minute)
	calls := 0
	build := func() []HeaderBlock {
		calls++
		return []HeaderBlock{{Header: "caller"}}
	}

	c.GetOrBuild("a.go", 1, 10, 5, 5, 3, snippet.FileSig{MtimeNs: 100, Size: 50}, build)
	c.GetOrBuild("a.go", 1, 10, 5, 5, 3, snippet.FileSig{MtimeNs: 200, Size: 50}, build)

	if calls != 2 {
		t.Errorf("expected a changed mtime to invalidate the cache entry and rebuild, build ran %d times", calls)
	}
}

func TestGraphCache_ZeroTTLAlwaysRebuilds(t *testing.T) {
	c := NewGraphCache(0)
	calls := 0
	build := func() []HeaderBlock {
		calls++
		return nil
	}
	sig := snippet.FileSig{MtimeNs: 1, Size: 1}
	c.GetOrBuild("a.go", 1, 1, 1, 1, 1, sig, build)
	c.GetOrBuild("a.go", 1, 1, 1, 1, 1, sig, build)

	if calls != 2 {
		t.Errorf("expected ttl<=0 to bypass caching entirely, build ran %d times", calls)
	}
}

func TestUsagesCache_ReusesCachedValueForSameKey(t *testing.T) {
	c := NewUsagesCache(time.Minute)
	sig := snippet.FileSig{MtimeNs: 100, Size: 50}
	calls := 0
	build := func() []GraphHit {
		calls++
		return []GraphHit{{FileRel: "a.go"}}
	}

	c.GetOrBuild("Dispatch", "a.go", 5, 3, sig, build)
	c.GetOrBuild("Dispatch", "a.go", 5, 3, sig, build)

	if calls != 1 {
		t.Errorf("expected build to run once for identical usages keys, ran %d times", calls)
	}
}
