package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RetrievalCache keys assembled retrieval results by owner, normalized
// query, and a per-owner generation counter. Invalidation bumps the owner's
// generation, which orphans every cached entry for that owner; ristretto
// evicts the orphans under cost pressure.
type RetrievalCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	mu          sync.Mutex
	generations map[string]*atomic.Uint64
}

// CachedContext is the unit stored per (owner, query) pair.
type CachedContext struct {
	Records []ScoredRecord
	Context string
	Report  ValidationReport
}

func NewRetrievalCache(ttl time.Duration) (*RetrievalCache, error) {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init retrieval cache: %w", err)
	}
	return &RetrievalCache{
		cache:       cache,
		ttl:         ttl,
		generations: make(map[string]*atomic.Uint64),
	}, nil
}

func (c *RetrievalCache) generation(ownerID string) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, ok := c.generations[ownerID]
	if !ok {
		gen = &atomic.Uint64{}
		c.generations[ownerID] = gen
	}
	return gen
}

func (c *RetrievalCache) key(ownerID, query string) string {
	return fmt.Sprintf("%s|%d|%s", ownerID, c.generation(ownerID).Load(), normalizeQuery(query))
}

// Get returns the cached result for the owner's query, if still live.
func (c *RetrievalCache) Get(ownerID, query string) (CachedContext, bool) {
	if c == nil {
		return CachedContext{}, false
	}
	v, ok := c.cache.Get(c.key(ownerID, query))
	if !ok {
		return CachedContext{}, false
	}
	cached, ok := v.(CachedContext)
	return cached, ok
}

// Put stores a retrieval result under the owner's current generation.
func (c *RetrievalCache) Put(ownerID, query string, value CachedContext) {
	if c == nil {
		return
	}
	cost := int64(len(value.Context))
	if cost < 1 {
		cost = 1
	}
	c.cache.SetWithTTL(c.key(ownerID, query), value, cost, c.ttl)
}

// Wait blocks until buffered writes have been applied.
func (c *RetrievalCache) Wait() {
	if c == nil {
		return
	}
	c.cache.Wait()
}

// Invalidate drops all cached entries for one owner.
func (c *RetrievalCache) Invalidate(ownerID string) {
	if c == nil {
		return
	}
	c.generation(ownerID).Add(1)
}

func (c *RetrievalCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
