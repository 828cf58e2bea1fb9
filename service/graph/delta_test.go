package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/barterlabs/go-barter/service/persist"
)

// stubIndex is a LoopIndex over a fixed loop set.
type stubIndex struct {
	loops []persist.TradeLoop
}

func (s stubIndex) LoopsForWallet(id persist.WalletID) []persist.TradeLoop {
	var out []persist.TradeLoop
	for _, l := range s.loops {
		if l.ContainsWallet(id) {
			out = append(out, l)
		}
	}
	return out
}

func (s stubIndex) LoopsWithNFT(id persist.NFTID) []persist.TradeLoop {
	var out []persist.TradeLoop
	for _, l := range s.loops {
		if l.ContainsNFT(id) {
			out = append(out, l)
		}
	}
	return out
}

func TestDeltaAffected(t *testing.T) {
	a := assert.New(t)
	var engine DeltaEngine

	t.Run("add nft touches owner and standing wanters", func(t *testing.T) {
		s := NewStore()
		s.AddWant("bob", "n1")
		s.AddWant("carol", "n1")
		prior := s.Snapshot()

		set := engine.Affected(prior, stubIndex{}, persist.Mutation{
			Kind: persist.MutationAddNFT,
			NFT:  &persist.NFT{ID: "n1", Owner: "alice"},
		})

		a.True(set.Wallets["alice"])
		a.True(set.Wallets["bob"])
		a.True(set.Wallets["carol"])
		a.True(set.NFTs["n1"])
		a.Empty(set.FlaggedLoops)
	})

	t.Run("add nft touches collection wanters", func(t *testing.T) {
		s := NewStore()
		s.AddCollectionWant("dave", "punks")
		prior := s.Snapshot()

		set := engine.Affected(prior, stubIndex{}, persist.Mutation{
			Kind: persist.MutationAddNFT,
			NFT:  &persist.NFT{ID: "n1", Owner: "alice", Collection: "punks"},
		})

		a.True(set.Wallets["dave"])
	})

	t.Run("remove nft flags loops carrying it", func(t *testing.T) {
		s := NewStore()
		s.AddNFT(nft("n1", "alice", 100))
		prior := s.Snapshot()

		loop := persist.TradeLoop{
			ID: "loop1",
			Steps: []persist.TradeStep{
				{From: "alice", To: "bob", NFTs: []persist.NFT{{ID: "n1"}}},
				{From: "bob", To: "alice", NFTs: []persist.NFT{{ID: "n2"}}},
			},
		}

		set := engine.Affected(prior, stubIndex{loops: []persist.TradeLoop{loop}}, persist.Mutation{
			Kind:  persist.MutationRemoveNFT,
			NFTID: "n1",
		})

		a.Equal([]persist.LoopID{"loop1"}, set.FlaggedLoops)
		a.True(set.Wallets["alice"])
		a.True(set.Wallets["bob"])
	})

	t.Run("add want touches wanter, owner, and one backward hop", func(t *testing.T) {
		s := NewStore()
		s.AddNFT(nft("n1", "alice", 100))
		s.AddNFT(nft("n2", "carol", 100))
		s.AddWant("bob", "n2") // carol has an edge into bob
		prior := s.Snapshot()

		set := engine.Affected(prior, stubIndex{}, persist.Mutation{
			Kind:     persist.MutationAddWant,
			WalletID: "bob",
			NFTID:    "n1",
		})

		a.True(set.Wallets["bob"])
		a.True(set.Wallets["alice"])
		a.True(set.Wallets["carol"])
	})

	t.Run("remove want flags loops using that edge", func(t *testing.T) {
		s := NewStore()
		s.AddNFT(nft("n1", "alice", 100))
		s.AddWant("bob", "n1")
		prior := s.Snapshot()

		using := persist.TradeLoop{
			ID: "uses-edge",
			Steps: []persist.TradeStep{
				{From: "alice", To: "bob", NFTs: []persist.NFT{{ID: "n1"}}},
				{From: "bob", To: "alice", NFTs: []persist.NFT{{ID: "n2"}}},
			},
		}
		other := persist.TradeLoop{
			ID: "unrelated",
			Steps: []persist.TradeStep{
				{From: "carol", To: "dave", NFTs: []persist.NFT{{ID: "n3"}}},
				{From: "dave", To: "carol", NFTs: []persist.NFT{{ID: "n4"}}},
			},
		}

		set := engine.Affected(prior, stubIndex{loops: []persist.TradeLoop{using, other}}, persist.Mutation{
			Kind:     persist.MutationRemoveWant,
			WalletID: "bob",
			NFTID:    "n1",
		})

		a.Equal([]persist.LoopID{"uses-edge"}, set.FlaggedLoops)
		a.False(set.Wallets["carol"])
		a.False(set.Wallets["dave"])
	})

	t.Run("rejection update flags every loop of the wallet", func(t *testing.T) {
		s := NewStore()
		prior := s.Snapshot()

		mine := persist.TradeLoop{
			ID: "mine",
			Steps: []persist.TradeStep{
				{From: "alice", To: "bob", NFTs: []persist.NFT{{ID: "n1"}}},
				{From: "bob", To: "alice", NFTs: []persist.NFT{{ID: "n2"}}},
			},
		}

		set := engine.Affected(prior, stubIndex{loops: []persist.TradeLoop{mine}}, persist.Mutation{
			Kind:       persist.MutationUpdateRejections,
			WalletID:   "alice",
			Rejections: &persist.RejectionUpdate{Wallets: []persist.WalletID{"bob"}},
		})

		a.Equal([]persist.LoopID{"mine"}, set.FlaggedLoops)
	})

	t.Run("collection want removal flags only collection-backed loops", func(t *testing.T) {
		s := NewStore()
		s.AddNFT(persist.NFT{ID: "n1", Owner: "alice", Collection: "punks", EstimatedValue: 100})
		s.AddNFT(persist.NFT{ID: "n2", Owner: "bob", EstimatedValue: 100})
		s.AddCollectionWant("bob", "punks")
		s.AddWant("alice", "n2")
		prior := s.Snapshot()

		collectionBacked := persist.TradeLoop{
			ID: "coll-loop",
			Steps: []persist.TradeStep{
				{From: "alice", To: "bob", NFTs: []persist.NFT{{ID: "n1", Collection: "punks"}}},
				{From: "bob", To: "alice", NFTs: []persist.NFT{{ID: "n2"}}},
			},
		}

		set := engine.Affected(prior, stubIndex{loops: []persist.TradeLoop{collectionBacked}}, persist.Mutation{
			Kind:       persist.MutationRemoveCollectionWant,
			WalletID:   "bob",
			Collection: "punks",
		})

		a.Equal([]persist.LoopID{"coll-loop"}, set.FlaggedLoops)
	})

	t.Run("disjoint subgraphs stay untouched", func(t *testing.T) {
		s := NewStore()
		ring(s, "x", 3, 100)
		ring(s, "y", 3, 100)
		prior := s.Snapshot()

		set := engine.Affected(prior, stubIndex{}, persist.Mutation{
			Kind:     persist.MutationAddWant,
			WalletID: "xa",
			NFTID:    "xnftb",
		})

		for w := range set.Wallets {
			a.NotContains(string(w), "y", "wallet %s from the other subgraph is affected", w)
		}
	})

	t.Run("empty reports no work", func(t *testing.T) {
		set := &AffectedSet{Wallets: map[persist.WalletID]bool{}, NFTs: map[persist.NFTID]bool{}}
		a.True(set.Empty())
		set.AddWallet("alice")
		a.False(set.Empty())
	})
}
