package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barterlabs/go-barter/service/persist"
)

// ring wires n wallets into a directed cycle w0 -> w1 -> ... -> w0 by giving
// each wallet one nft and making the next wallet want it.
func ring(s *Store, prefix string, n int, value float64) []persist.WalletID {
	ids := make([]persist.WalletID, n)
	for i := 0; i < n; i++ {
		ids[i] = persist.WalletID(prefix + string(rune('a'+i)))
	}
	for i, w := range ids {
		s.AddNFT(persist.NFT{ID: persist.NFTID(prefix + "nft" + string(rune('a'+i))), Owner: w, EstimatedValue: value})
	}
	for i := range ids {
		wanter := ids[(i+1)%n]
		s.AddWant(wanter, persist.NFTID(prefix+"nft"+string(rune('a'+i))))
	}
	return ids
}

func allWallets(p *Projection) map[persist.WalletID]bool {
	out := make(map[persist.WalletID]bool, len(p.WalletIDs))
	for _, id := range p.WalletIDs {
		out[id] = true
	}
	return out
}

func TestFindSCCs(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	t.Run("two disjoint rings are two components", func(t *testing.T) {
		s := NewStore()
		r1 := ring(s, "x", 3, 100)
		r2 := ring(s, "y", 4, 100)
		p := BuildProjection(s.Snapshot())

		res, err := FindSCCs(ctx, p, allWallets(p), EdgeOptions{}, DefaultSCCConfig())
		require.NoError(t, err)
		require.Len(t, res.Components, 2)
		a.False(res.Truncated)

		// Sorted by size ascending.
		a.ElementsMatch(r1, res.Components[0])
		a.ElementsMatch(r2, res.Components[1])
	})

	t.Run("a 2-cycle survives as a component of size 2", func(t *testing.T) {
		s := NewStore()
		ring(s, "p", 2, 100)
		p := BuildProjection(s.Snapshot())

		res, err := FindSCCs(ctx, p, allWallets(p), EdgeOptions{}, DefaultSCCConfig())
		require.NoError(t, err)
		require.Len(t, res.Components, 1)
		a.Len(res.Components[0], 2)
	})

	t.Run("singletons are discarded", func(t *testing.T) {
		s := NewStore()
		// A chain, not a cycle: alice -> bob only.
		s.AddNFT(nft("n1", "alice", 100))
		s.AddWant("bob", "n1")
		p := BuildProjection(s.Snapshot())

		res, err := FindSCCs(ctx, p, allWallets(p), EdgeOptions{}, DefaultSCCConfig())
		require.NoError(t, err)
		a.Empty(res.Components)
	})

	t.Run("vertex cap truncates", func(t *testing.T) {
		s := NewStore()
		ring(s, "x", 6, 100)
		p := BuildProjection(s.Snapshot())

		cfg := DefaultSCCConfig()
		cfg.MaxVertices = 3
		res, err := FindSCCs(ctx, p, allWallets(p), EdgeOptions{}, cfg)
		require.NoError(t, err)
		a.True(res.Truncated)
	})

	t.Run("cancelled context surfaces", func(t *testing.T) {
		s := NewStore()
		ring(s, "x", 8, 100)
		p := BuildProjection(s.Snapshot())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		cfg := DefaultSCCConfig()
		cfg.CancelEvery = 1
		_, err := FindSCCs(cancelled, p, allWallets(p), EdgeOptions{}, cfg)
		a.ErrorIs(err, context.Canceled)
	})
}
