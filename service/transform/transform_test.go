package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barterlabs/go-barter/service/graph"
	"github.com/barterlabs/go-barter/service/persist"
)

func sampleProjection(t *testing.T) *graph.Projection {
	t.Helper()
	s := graph.NewStore()
	require.NoError(t, s.AddNFT(persist.NFT{ID: "n1", Owner: "alice", EstimatedValue: 100}))
	require.NoError(t, s.AddWant("bob", "n1"))
	return graph.BuildProjection(s.Snapshot())
}

func TestCacheGetPut(t *testing.T) {
	a := assert.New(t)
	c := NewCache(DefaultCacheConfig())
	p := sampleProjection(t)

	_, ok := c.Get("t1", 42)
	a.False(ok)

	c.Put("t1", 42, p)
	got, ok := c.Get("t1", 42)
	require.True(t, ok)
	a.Equal(p.WalletIDs, got.WalletIDs)

	// Keys are scoped per tenant and per fingerprint.
	_, ok = c.Get("t2", 42)
	a.False(ok)
	_, ok = c.Get("t1", 43)
	a.False(ok)

	hits, misses, size := c.Stats()
	a.Equal(uint64(1), hits)
	a.Equal(uint64(3), misses)
	a.Equal(1, size)
}

func TestCacheHandsOutCopies(t *testing.T) {
	a := assert.New(t)
	c := NewCache(DefaultCacheConfig())
	p := sampleProjection(t)

	c.Put("t1", 42, p)

	// Mutating the stored-from projection must not reach the cache.
	p.Wallets["alice"].OwnedNFTs["evil"] = true

	first, ok := c.Get("t1", 42)
	require.True(t, ok)
	a.False(first.Wallets["alice"].OwnedNFTs["evil"])

	// Mutating a returned copy must not reach later readers.
	first.Wallets["alice"].OwnedNFTs["evil"] = true
	first.WantIndex["n1"] = append(first.WantIndex["n1"], "mallory")

	second, ok := c.Get("t1", 42)
	require.True(t, ok)
	a.False(second.Wallets["alice"].OwnedNFTs["evil"])
	a.Equal([]persist.WalletID{"bob"}, second.WantIndex["n1"])
}

func TestCacheTTL(t *testing.T) {
	a := assert.New(t)
	c := NewCache(CacheConfig{TTL: time.Millisecond, MaxEntries: 10})
	c.Put("t1", 42, sampleProjection(t))

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("t1", 42)
	a.False(ok)

	_, _, size := c.Stats()
	a.Equal(0, size)
}

func TestCacheEviction(t *testing.T) {
	a := assert.New(t)
	c := NewCache(CacheConfig{TTL: time.Minute, MaxEntries: 2})
	p := sampleProjection(t)

	c.Put("t1", 1, p)
	c.Put("t1", 2, p)

	// Touch the first entry so it out-scores the second: both entries age
	// together, but hits divide the first one's age down.
	for i := 0; i < 10; i++ {
		_, ok := c.Get("t1", 1)
		require.True(t, ok)
	}
	time.Sleep(20 * time.Millisecond)

	c.Put("t1", 3, p)

	_, ok := c.Get("t1", 1)
	a.True(ok, "frequently hit entry survives")
	_, ok = c.Get("t1", 2)
	a.False(ok, "cold entry is evicted")
	_, ok = c.Get("t1", 3)
	a.True(ok)
}

func TestCacheInvalidateTenant(t *testing.T) {
	a := assert.New(t)
	c := NewCache(DefaultCacheConfig())
	p := sampleProjection(t)

	c.Put("t1", 1, p)
	c.Put("t1", 2, p)
	c.Put("t2", 1, p)

	c.InvalidateTenant("t1")

	_, ok := c.Get("t1", 1)
	a.False(ok)
	_, ok = c.Get("t1", 2)
	a.False(ok)
	_, ok = c.Get("t2", 1)
	a.True(ok)
}
