package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barterlabs/go-barter/service/persist"
)

func enumerate(t *testing.T, p *Projection, scc []persist.WalletID, cfg EnumeratorConfig, budget *Budget) EnumerateResult {
	t.Helper()
	res, err := EnumerateCycles(context.Background(), p, scc, EdgeOptions{}, cfg, budget)
	require.NoError(t, err)
	return res
}

func TestEnumerateCycles(t *testing.T) {
	a := assert.New(t)

	t.Run("a 3-ring yields exactly one loop", func(t *testing.T) {
		s := NewStore()
		wallets := ring(s, "x", 3, 100)
		p := BuildProjection(s.Snapshot())

		res := enumerate(t, p, wallets, DefaultEnumeratorConfig(), nil)
		require.Len(t, res.Loops, 1)
		a.False(res.Truncated)

		loop := res.Loops[0]
		a.Equal(3, loop.Participants)
		require.Len(t, loop.Steps, 3)
		a.Equal(persist.CanonicalLoopID(loop.Steps), loop.ID)

		// Every step hands over exactly one nft, and each participant both
		// gives and receives.
		gives := map[persist.WalletID]int{}
		receives := map[persist.WalletID]int{}
		for _, step := range loop.Steps {
			require.Len(t, step.NFTs, 1)
			gives[step.From]++
			receives[step.To]++
		}
		for _, w := range wallets {
			a.Equal(1, gives[w])
			a.Equal(1, receives[w])
		}
	})

	t.Run("a 2-ring yields one loop", func(t *testing.T) {
		s := NewStore()
		wallets := ring(s, "p", 2, 100)
		p := BuildProjection(s.Snapshot())

		res := enumerate(t, p, wallets, DefaultEnumeratorConfig(), nil)
		require.Len(t, res.Loops, 1)
		a.Equal(2, res.Loops[0].Participants)
	})

	t.Run("two runs emit identical loops in identical order", func(t *testing.T) {
		s := NewStore()
		// Overlapping cycles: a 4-ring plus a chord making a 2-cycle.
		wallets := ring(s, "x", 4, 100)
		s.AddNFT(nft("chord", wallets[1], 100))
		s.AddWant(wallets[0], "chord")
		p := BuildProjection(s.Snapshot())

		first := enumerate(t, p, wallets, DefaultEnumeratorConfig(), nil)
		second := enumerate(t, p, wallets, DefaultEnumeratorConfig(), nil)
		require.Equal(t, len(first.Loops), len(second.Loops))
		for i := range first.Loops {
			a.Equal(first.Loops[i].ID, second.Loops[i].ID)
			a.Equal(first.Loops[i].Steps, second.Loops[i].Steps)
		}
	})

	t.Run("depth pruning never suppresses shorter cycles", func(t *testing.T) {
		s := NewStore()
		// 5-ring a..e plus a back edge b -> a forming a 2-cycle.
		wallets := ring(s, "x", 5, 100)
		s.AddNFT(nft("back", wallets[1], 100))
		s.AddWant(wallets[0], "back")
		p := BuildProjection(s.Snapshot())

		cfg := DefaultEnumeratorConfig()
		cfg.MaxDepth = 2
		res := enumerate(t, p, wallets, cfg, nil)

		require.Len(t, res.Loops, 1)
		a.Equal(2, res.Loops[0].Participants)
	})

	t.Run("per-scc cap truncates", func(t *testing.T) {
		p := completeGraph(t, 4)
		wallets := p.WalletIDs

		cfg := DefaultEnumeratorConfig()
		cfg.MaxCyclesPerSCC = 3
		res := enumerate(t, p, wallets, cfg, nil)
		a.True(res.Truncated)
		a.Len(res.Loops, 3)
	})

	t.Run("shared budget truncates across the pass", func(t *testing.T) {
		p := completeGraph(t, 4)
		wallets := p.WalletIDs

		budget := NewBudget(5, time.Minute)
		res := enumerate(t, p, wallets, DefaultEnumeratorConfig(), budget)
		a.True(res.Truncated)
		a.Len(res.Loops, 5)
	})

	t.Run("median value selection picks the middle candidate", func(t *testing.T) {
		s := NewStore()
		// alice owns three nfts bob wants; bob owns one nft alice wants.
		s.AddNFT(nft("a-low", "alice", 10))
		s.AddNFT(nft("a-mid", "alice", 100))
		s.AddNFT(nft("a-high", "alice", 1000))
		s.AddNFT(nft("b-one", "bob", 100))
		s.AddWant("bob", "a-low")
		s.AddWant("bob", "a-mid")
		s.AddWant("bob", "a-high")
		s.AddWant("alice", "b-one")
		p := BuildProjection(s.Snapshot())

		res := enumerate(t, p, []persist.WalletID{"alice", "bob"}, DefaultEnumeratorConfig(), nil)
		require.Len(t, res.Loops, 1)

		for _, step := range res.Loops[0].Steps {
			require.Len(t, step.NFTs, 1)
			if step.From == "alice" {
				a.Equal(persist.NFTID("a-mid"), step.NFTs[0].ID)
			}
		}
	})
}

// completeGraph builds K(n): every wallet owns one nft and wants every other
// wallet's nft.
func completeGraph(t *testing.T, n int) *Projection {
	t.Helper()
	s := NewStore()
	ids := make([]persist.WalletID, n)
	for i := range ids {
		ids[i] = persist.WalletID("w" + string(rune('a'+i)))
		s.AddNFT(persist.NFT{ID: persist.NFTID("k" + string(rune('a'+i))), Owner: ids[i], EstimatedValue: 100})
	}
	for i, w := range ids {
		for j := range ids {
			if i == j {
				continue
			}
			s.AddWant(ids[j], persist.NFTID("k"+string(rune('a'+i))))
			_ = w
		}
	}
	p := BuildProjection(s.Snapshot())
	return p
}
