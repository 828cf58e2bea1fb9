package transform

import (
	"fmt"
	"sync"
	"time"

	"github.com/barterlabs/go-barter/service/graph"
	"github.com/barterlabs/go-barter/service/persist"
)

// CacheConfig bounds the projection cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultCacheConfig mirrors the documented defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 100,
	}
}

type entry struct {
	tenant     persist.TenantID
	projection *graph.Projection
	createdAt  time.Time
	hits       int
}

// Cache memoizes (tenant, graph fingerprint) -> projection. The cache is
// advisory: callers fall back to building the projection on a miss. Reads
// hand out deep copies so a cached projection can never be mutated through a
// caller; writes store their own deep copy for the same reason.
type Cache struct {
	mu      sync.Mutex
	cfg     CacheConfig
	entries map[string]*entry

	hitCount  uint64
	missCount uint64
}

// NewCache returns an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	return &Cache{cfg: cfg, entries: map[string]*entry{}}
}

// Get returns a deep copy of the cached projection for the key, if present
// and fresh.
func (c *Cache) Get(tenant persist.TenantID, fingerprint uint64) (*graph.Projection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(tenant, fingerprint)
	e, ok := c.entries[key]
	if !ok {
		c.missCount++
		return nil, false
	}
	if time.Since(e.createdAt) > c.cfg.TTL {
		delete(c.entries, key)
		c.missCount++
		return nil, false
	}

	e.hits++
	c.hitCount++
	return e.projection.Copy(), true
}

// Put stores a deep copy of the projection, evicting the coldest entry
// (largest age per hit) when full.
func (c *Cache) Put(tenant persist.TenantID, fingerprint uint64, p *graph.Projection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(tenant, fingerprint)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked()
	}

	c.entries[key] = &entry{
		tenant:     tenant,
		projection: p.Copy(),
		createdAt:  time.Now(),
	}
}

// InvalidateTenant drops every entry belonging to the tenant. Called on any
// mutation to the tenant's graph.
func (c *Cache) InvalidateTenant(tenant persist.TenantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.tenant == tenant {
			delete(c.entries, key)
		}
	}
}

// Stats returns cumulative hit/miss counts and the current size.
func (c *Cache) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitCount, c.missCount, len(c.entries)
}

// evictLocked removes the entry with the largest age/(hits+1) score, i.e.
// the one that is old relative to how often it was used.
func (c *Cache) evictLocked() {
	var worstKey string
	worstScore := -1.0
	for key, e := range c.entries {
		score := time.Since(e.createdAt).Seconds() / float64(e.hits+1)
		if worstScore < 0 || score > worstScore || (score == worstScore && key < worstKey) {
			worstKey = key
			worstScore = score
		}
	}
	if worstKey != "" {
		delete(c.entries, worstKey)
	}
}

func cacheKey(tenant persist.TenantID, fingerprint uint64) string {
	return fmt.Sprintf("%s:%016x", tenant, fingerprint)
}
