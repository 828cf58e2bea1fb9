package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barterlabs/go-barter/service/persist"
)

func nft(id persist.NFTID, owner persist.WalletID, value float64) persist.NFT {
	return persist.NFT{ID: id, Owner: owner, EstimatedValue: value, Currency: "USD"}
}

func TestStoreAddNFT(t *testing.T) {
	a := assert.New(t)

	t.Run("records ownership and metadata", func(t *testing.T) {
		s := NewStore()
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))

		got, ok := s.NFT("n1")
		a.True(ok)
		a.Equal(persist.WalletID("alice"), got.Owner)

		alice, ok := s.Wallet("alice")
		a.True(ok)
		a.True(alice.OwnedNFTs["n1"])
		a.Equal(1, s.NFTCount())
		a.Equal(1, s.WalletCount())
	})

	t.Run("re-adding with the same owner refreshes metadata", func(t *testing.T) {
		s := NewStore()
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))
		a.NoError(s.AddNFT(nft("n1", "alice", 250)))

		got, _ := s.NFT("n1")
		a.Equal(250.0, got.EstimatedValue)
		a.Equal(1, s.NFTCount())
	})

	t.Run("conflicting owner is rejected", func(t *testing.T) {
		s := NewStore()
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))

		err := s.AddNFT(nft("n1", "bob", 100))
		a.ErrorAs(err, &persist.ErrNFTOwnedByWallet{})
	})

	t.Run("owning an nft cancels a standing want for it", func(t *testing.T) {
		s := NewStore()
		a.NoError(s.AddWant("alice", "n1"))
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))

		alice, _ := s.Wallet("alice")
		a.False(alice.WantedNFTs["n1"])
	})
}

func TestStoreWants(t *testing.T) {
	a := assert.New(t)

	t.Run("want for an owned nft is silently dropped", func(t *testing.T) {
		s := NewStore()
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))
		a.NoError(s.AddWant("alice", "n1"))

		alice, _ := s.Wallet("alice")
		a.False(alice.WantedNFTs["n1"])
	})

	t.Run("remove want for unknown wallet errors", func(t *testing.T) {
		s := NewStore()
		a.ErrorAs(s.RemoveWant("ghost", "n1"), &persist.ErrWalletNotFound{})
	})

	t.Run("wants survive nft removal", func(t *testing.T) {
		s := NewStore()
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))
		a.NoError(s.AddWant("bob", "n1"))
		a.NoError(s.RemoveNFT("n1"))

		bob, _ := s.Wallet("bob")
		a.True(bob.WantedNFTs["n1"])

		// Re-adding the nft restores the edge.
		a.NoError(s.AddNFT(nft("n1", "alice", 100)))
		p := BuildProjection(s.Snapshot())
		edges := OutEdges(p, "alice", EdgeOptions{})
		require.Len(t, edges, 1)
		a.Equal(persist.WalletID("bob"), edges[0].To)
	})
}

func TestSnapshotIsolation(t *testing.T) {
	a := assert.New(t)

	s := NewStore()
	a.NoError(s.AddNFT(nft("n1", "alice", 100)))
	a.NoError(s.AddWant("bob", "n1"))

	snap := s.Snapshot()
	a.Equal(uint64(2), snap.Version)

	// Mutate the live graph after taking the snapshot.
	a.NoError(s.AddNFT(nft("n2", "bob", 50)))
	a.NoError(s.RemoveWant("bob", "n1"))
	a.NoError(s.UpdateRejections("alice", persist.RejectionUpdate{Wallets: []persist.WalletID{"bob"}}))

	// The snapshot still sees the old state.
	_, ok := snap.NFTs["n2"]
	a.False(ok)
	a.True(snap.Wallets["bob"].WantedNFTs["n1"])
	a.True(snap.WantIndex["n1"]["bob"])
	a.Empty(snap.Wallets["alice"].RejectedWallets)

	// The live graph sees the new state.
	_, ok = s.NFT("n2")
	a.True(ok)
	bob, _ := s.Wallet("bob")
	a.False(bob.WantedNFTs["n1"])
}

func TestSnapshotFingerprint(t *testing.T) {
	a := assert.New(t)

	s := NewStore()
	a.NoError(s.AddNFT(nft("n1", "alice", 100)))
	a.NoError(s.AddWant("bob", "n1"))

	fp1 := s.Snapshot().Fingerprint()
	fp2 := s.Snapshot().Fingerprint()
	a.Equal(fp1, fp2)

	a.NoError(s.AddWant("carol", "n1"))
	a.NotEqual(fp1, s.Snapshot().Fingerprint())
}

func TestRestore(t *testing.T) {
	a := assert.New(t)

	s := NewStore()
	a.NoError(s.AddNFT(persist.NFT{ID: "n1", Owner: "alice", Collection: "punks", EstimatedValue: 100}))
	a.NoError(s.AddNFT(nft("n2", "bob", 50)))
	a.NoError(s.AddWant("bob", "n1"))
	a.NoError(s.AddCollectionWant("carol", "punks"))

	snap := s.Snapshot()
	var nfts []persist.NFT
	for _, n := range snap.NFTs {
		nfts = append(nfts, n)
	}
	var wallets []*persist.Wallet
	for _, w := range snap.Wallets {
		wallets = append(wallets, w)
	}

	restored := Restore(nfts, wallets)
	a.Equal(s.NFTCount(), restored.NFTCount())
	a.Equal(s.WalletCount(), restored.WalletCount())

	p := BuildProjection(restored.Snapshot())
	a.Equal([]persist.WalletID{"bob"}, p.WantIndex["n1"])
	a.Equal([]persist.WalletID{"carol"}, p.CollectionWanters["punks"])
	require.Len(t, p.CollectionMembers["punks"], 1)
	a.Equal(persist.NFTID("n1"), p.CollectionMembers["punks"][0].ID)
}
