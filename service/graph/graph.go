package graph

import (
	"time"

	"github.com/barterlabs/go-barter/service/persist"
)

// Store is a tenant's in-memory trade graph: NFTs, wallets, ownership, wants
// (specific and collection-level), and the indexes derived from them.
//
// Mutations come only from the tenant's serial pipeline, so the store itself
// is not locked. Snapshots share structure with the live graph; the store
// copies what a mutation touches whenever a snapshot is outstanding, so a
// snapshot is immutable for as long as a reader holds it.
type Store struct {
	nfts              map[persist.NFTID]persist.NFT
	wallets           map[persist.WalletID]*persist.Wallet
	wantIndex         map[persist.NFTID]map[persist.WalletID]bool
	collectionWanters map[persist.CollectionID]map[persist.WalletID]bool
	collectionMembers map[persist.CollectionID]map[persist.NFTID]bool

	version uint64

	// shared is true while the current maps may be referenced by a snapshot.
	shared bool
	// copied tracks which wallets have already been replaced since the maps
	// were last shared, so repeated mutations don't re-copy.
	copied map[persist.WalletID]bool
}

// NewStore returns an empty graph.
func NewStore() *Store {
	return &Store{
		nfts:              map[persist.NFTID]persist.NFT{},
		wallets:           map[persist.WalletID]*persist.Wallet{},
		wantIndex:         map[persist.NFTID]map[persist.WalletID]bool{},
		collectionWanters: map[persist.CollectionID]map[persist.WalletID]bool{},
		collectionMembers: map[persist.CollectionID]map[persist.NFTID]bool{},
	}
}

// Restore rebuilds a graph from persisted entities.
func Restore(nfts []persist.NFT, wallets []*persist.Wallet) *Store {
	s := NewStore()
	for _, w := range wallets {
		s.wallets[w.ID] = w.Copy()
	}
	for _, n := range nfts {
		if _, ok := s.wallets[n.Owner]; !ok {
			s.wallets[n.Owner] = persist.NewWallet(n.Owner)
		}
		s.nfts[n.ID] = n
		s.wallets[n.Owner].OwnedNFTs[n.ID] = true
		if n.Collection != "" {
			s.memberSet(n.Collection)[n.ID] = true
		}
	}
	for _, w := range s.wallets {
		for n := range w.WantedNFTs {
			s.wantSet(n)[w.ID] = true
		}
		for c := range w.WantedCollections {
			s.collectionWanterSet(c)[w.ID] = true
		}
	}
	return s
}

// NFTCount returns the number of NFTs in the graph.
func (s *Store) NFTCount() int { return len(s.nfts) }

// WalletCount returns the number of wallets in the graph.
func (s *Store) WalletCount() int { return len(s.wallets) }

// Version increments on every applied mutation.
func (s *Store) Version() uint64 { return s.version }

// NFT returns the NFT by id.
func (s *Store) NFT(id persist.NFTID) (persist.NFT, bool) {
	n, ok := s.nfts[id]
	return n, ok
}

// Wallet returns the wallet by id. The returned wallet must not be mutated.
func (s *Store) Wallet(id persist.WalletID) (*persist.Wallet, bool) {
	w, ok := s.wallets[id]
	return w, ok
}

// AddNFT records an NFT and its ownership. Re-adding an NFT with the same
// owner refreshes its metadata; a different owner is a conflict.
func (s *Store) AddNFT(nft persist.NFT) error {
	if existing, ok := s.nfts[nft.ID]; ok && existing.Owner != nft.Owner {
		return persist.ErrNFTOwnedByWallet{NFT: nft.ID, Owner: existing.Owner}
	}

	s.prepareWrite()
	s.nfts[nft.ID] = nft
	owner := s.mutableWallet(nft.Owner)
	owner.OwnedNFTs[nft.ID] = true

	// Owning an NFT cancels any standing want for it.
	if owner.WantedNFTs[nft.ID] {
		delete(owner.WantedNFTs, nft.ID)
		delete(s.wantSet(nft.ID), nft.Owner)
	}

	if nft.Collection != "" {
		s.memberSet(nft.Collection)[nft.ID] = true
	}
	s.version++
	return nil
}

// RemoveNFT deletes an NFT, its ownership, and its index entries. Standing
// wants for the NFT survive so re-adding it restores the edges.
func (s *Store) RemoveNFT(id persist.NFTID) error {
	nft, ok := s.nfts[id]
	if !ok {
		return persist.ErrNFTNotFound{ID: id}
	}

	s.prepareWrite()
	delete(s.nfts, id)
	if owner, ok := s.wallets[nft.Owner]; ok {
		w := s.mutableWallet(owner.ID)
		delete(w.OwnedNFTs, id)
	}
	if nft.Collection != "" {
		delete(s.memberSet(nft.Collection), id)
	}
	s.version++
	return nil
}

// AddWant records that the wallet wants the NFT. A want for an NFT the
// wallet already owns is silently dropped.
func (s *Store) AddWant(walletID persist.WalletID, nftID persist.NFTID) error {
	if nft, ok := s.nfts[nftID]; ok && nft.Owner == walletID {
		return nil
	}

	s.prepareWrite()
	w := s.mutableWallet(walletID)
	w.WantedNFTs[nftID] = true
	s.wantSet(nftID)[walletID] = true
	s.version++
	return nil
}

// RemoveWant removes a standing want.
func (s *Store) RemoveWant(walletID persist.WalletID, nftID persist.NFTID) error {
	if _, ok := s.wallets[walletID]; !ok {
		return persist.ErrWalletNotFound{ID: walletID}
	}

	s.prepareWrite()
	w := s.mutableWallet(walletID)
	delete(w.WantedNFTs, nftID)
	delete(s.wantSet(nftID), walletID)
	s.version++
	return nil
}

// AddCollectionWant records that the wallet wants any NFT in the collection.
// Expansion into concrete NFTs happens lazily in the enumerator.
func (s *Store) AddCollectionWant(walletID persist.WalletID, collectionID persist.CollectionID) error {
	s.prepareWrite()
	w := s.mutableWallet(walletID)
	w.WantedCollections[collectionID] = true
	s.collectionWanterSet(collectionID)[walletID] = true
	s.version++
	return nil
}

// RemoveCollectionWant removes a collection-level want.
func (s *Store) RemoveCollectionWant(walletID persist.WalletID, collectionID persist.CollectionID) error {
	if _, ok := s.wallets[walletID]; !ok {
		return persist.ErrWalletNotFound{ID: walletID}
	}

	s.prepareWrite()
	w := s.mutableWallet(walletID)
	delete(w.WantedCollections, collectionID)
	delete(s.collectionWanterSet(collectionID), walletID)
	s.version++
	return nil
}

// UpdateRejections replaces the wallet's rejection lists.
func (s *Store) UpdateRejections(walletID persist.WalletID, update persist.RejectionUpdate) error {
	s.prepareWrite()
	w := s.mutableWallet(walletID)
	w.RejectedWallets = map[persist.WalletID]bool{}
	for _, id := range update.Wallets {
		w.RejectedWallets[id] = true
	}
	w.RejectedNFTs = map[persist.NFTID]bool{}
	for _, id := range update.NFTs {
		w.RejectedNFTs[id] = true
	}
	s.version++
	return nil
}

// Snapshot returns an immutable view of the graph. The view shares structure
// with the live graph; subsequent mutations copy what they touch.
func (s *Store) Snapshot() *Snapshot {
	s.shared = true
	s.copied = map[persist.WalletID]bool{}
	return &Snapshot{
		NFTs:              s.nfts,
		Wallets:           s.wallets,
		WantIndex:         s.wantIndex,
		CollectionWanters: s.collectionWanters,
		CollectionMembers: s.collectionMembers,
		Version:           s.version,
		TakenAt:           time.Now(),
	}
}

// prepareWrite reclones the top-level maps if a snapshot may still reference
// them. Inner sets are copied individually as they are touched.
func (s *Store) prepareWrite() {
	if !s.shared {
		return
	}
	s.nfts = copyNFTMap(s.nfts)
	s.wallets = copyWalletMap(s.wallets)
	s.wantIndex = copyIndex(s.wantIndex)
	s.collectionWanters = copyIndex(s.collectionWanters)
	s.collectionMembers = copyIndex(s.collectionMembers)
	s.shared = false
}

// mutableWallet returns a wallet safe to mutate, creating it if absent and
// copying it if a snapshot may still reference it.
func (s *Store) mutableWallet(id persist.WalletID) *persist.Wallet {
	w, ok := s.wallets[id]
	if !ok {
		w = persist.NewWallet(id)
		s.wallets[id] = w
		s.copiedMark(id)
		return w
	}
	if s.copied != nil && !s.copied[id] {
		w = w.Copy()
		s.wallets[id] = w
		s.copiedMark(id)
	}
	return w
}

func (s *Store) copiedMark(id persist.WalletID) {
	if s.copied != nil {
		s.copied[id] = true
	}
}

func (s *Store) wantSet(id persist.NFTID) map[persist.WalletID]bool {
	set, ok := s.wantIndex[id]
	if !ok {
		set = map[persist.WalletID]bool{}
		s.wantIndex[id] = set
	}
	return set
}

func (s *Store) collectionWanterSet(id persist.CollectionID) map[persist.WalletID]bool {
	set, ok := s.collectionWanters[id]
	if !ok {
		set = map[persist.WalletID]bool{}
		s.collectionWanters[id] = set
	}
	return set
}

func (s *Store) memberSet(id persist.CollectionID) map[persist.NFTID]bool {
	set, ok := s.collectionMembers[id]
	if !ok {
		set = map[persist.NFTID]bool{}
		s.collectionMembers[id] = set
	}
	return set
}

func copyNFTMap(src map[persist.NFTID]persist.NFT) map[persist.NFTID]persist.NFT {
	dst := make(map[persist.NFTID]persist.NFT, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyWalletMap(src map[persist.WalletID]*persist.Wallet) map[persist.WalletID]*persist.Wallet {
	dst := make(map[persist.WalletID]*persist.Wallet, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyIndex[K comparable, V comparable](src map[K]map[V]bool) map[K]map[V]bool {
	dst := make(map[K]map[V]bool, len(src))
	for k, set := range src {
		cp := make(map[V]bool, len(set))
		for v := range set {
			cp[v] = true
		}
		dst[k] = cp
	}
	return dst
}
