package memory

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) *RetrievalCache {
	t.Helper()
	cache, err := NewRetrievalCache(time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(cache.Close)
	return cache
}

func TestCachePutGet(t *testing.T) {
	cache := newTestCache(t)

	value := CachedContext{Context: "Relevant memories:\n- [fact] x"}
	cache.Put("user-1", "reviews calendar", value)
	cache.Wait()

	got, ok := cache.Get("user-1", "reviews calendar")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Context != value.Context {
		t.Fatalf("got %+v", got)
	}
}

func TestCacheKeyNormalizesQuery(t *testing.T) {
	cache := newTestCache(t)

	cache.Put("user-1", "Reviews   my CALENDAR", CachedContext{Context: "x"})
	cache.Wait()

	if _, ok := cache.Get("user-1", "reviews my calendar"); !ok {
		t.Fatal("expected hit on normalized query variant")
	}
}

func TestCacheIsolatesOwners(t *testing.T) {
	cache := newTestCache(t)

	cache.Put("user-1", "reviews calendar", CachedContext{Context: "x"})
	cache.Wait()

	if _, ok := cache.Get("user-2", "reviews calendar"); ok {
		t.Fatal("cache leaked across owners")
	}
}

func TestCacheInvalidateDropsOwnerEntries(t *testing.T) {
	cache := newTestCache(t)

	cache.Put("user-1", "reviews calendar", CachedContext{Context: "x"})
	cache.Put("user-2", "reviews calendar", CachedContext{Context: "y"})
	cache.Wait()

	cache.Invalidate("user-1")

	if _, ok := cache.Get("user-1", "reviews calendar"); ok {
		t.Fatal("invalidated entry still served")
	}
	if _, ok := cache.Get("user-2", "reviews calendar"); !ok {
		t.Fatal("invalidation leaked to another owner")
	}
}

func TestCacheNilReceiverSafe(t *testing.T) {
	var cache *RetrievalCache

	cache.Put("user-1", "q", CachedContext{})
	cache.Invalidate("user-1")
	cache.Wait()
	cache.Close()
	if _, ok := cache.Get("user-1", "q"); ok {
		t.Fatal("nil cache returned a hit")
	}
}
