package graph

import (
	"github.com/barterlabs/go-barter/service/persist"
)

// AffectedSet is the minimal set of wallets and NFTs whose cycles could
// change as a result of a mutation. Enumeration is restricted to SCCs
// overlapping it, and registry invalidation only re-judges loops that
// intersect it.
type AffectedSet struct {
	Wallets map[persist.WalletID]bool
	NFTs    map[persist.NFTID]bool

	// FlaggedLoops are loops the mutation structurally broke (e.g. the want
	// backing one of their edges was removed); they are invalidated even if
	// re-enumeration does not reach them.
	FlaggedLoops []persist.LoopID
}

// Empty reports whether the mutation cannot affect any cycle.
func (a *AffectedSet) Empty() bool {
	return len(a.Wallets) == 0 && len(a.FlaggedLoops) == 0
}

// AddWallet adds a wallet to the set, ignoring the empty id.
func (a *AffectedSet) AddWallet(id persist.WalletID) {
	if id != "" {
		a.Wallets[id] = true
	}
}

func newAffectedSet() *AffectedSet {
	return &AffectedSet{
		Wallets: map[persist.WalletID]bool{},
		NFTs:    map[persist.NFTID]bool{},
	}
}

// LoopIndex is the registry view the delta engine consults for mutations
// whose blast radius is defined by active loops.
type LoopIndex interface {
	LoopsForWallet(id persist.WalletID) []persist.TradeLoop
	LoopsWithNFT(id persist.NFTID) []persist.TradeLoop
}

// DeltaEngine computes affected sets. It is stateless; every call works off
// the snapshot taken before the mutation was applied.
type DeltaEngine struct{}

// Affected returns the affected set for a mutation, evaluated against the
// pre-mutation snapshot. The guarantee: any cycle whose existence depends on
// the change intersects the returned set.
func (DeltaEngine) Affected(prior *Snapshot, loops LoopIndex, m persist.Mutation) *AffectedSet {
	set := newAffectedSet()

	switch m.Kind {
	case persist.MutationAddNFT:
		nft := *m.NFT
		set.AddWallet(nft.Owner)
		set.NFTs[nft.ID] = true
		for w := range prior.WantIndex[nft.ID] {
			set.AddWallet(w)
		}
		if nft.Collection != "" {
			for w := range prior.CollectionWanters[nft.Collection] {
				set.AddWallet(w)
			}
		}

	case persist.MutationRemoveNFT:
		set.NFTs[m.NFTID] = true
		set.AddWallet(prior.Owner(m.NFTID))
		for _, loop := range loops.LoopsWithNFT(m.NFTID) {
			set.FlaggedLoops = append(set.FlaggedLoops, loop.ID)
			for _, w := range loop.Wallets() {
				set.AddWallet(w)
			}
		}

	case persist.MutationAddWant:
		set.AddWallet(m.WalletID)
		set.NFTs[m.NFTID] = true
		set.AddWallet(prior.Owner(m.NFTID))
		backwardOneHop(prior, m.WalletID, set)

	case persist.MutationRemoveWant:
		set.AddWallet(m.WalletID)
		set.NFTs[m.NFTID] = true
		owner := prior.Owner(m.NFTID)
		set.AddWallet(owner)
		backwardOneHop(prior, m.WalletID, set)
		for _, loop := range loopsWithEdge(loops, m.WalletID, owner, m.NFTID) {
			set.FlaggedLoops = append(set.FlaggedLoops, loop.ID)
			for _, w := range loop.Wallets() {
				set.AddWallet(w)
			}
		}

	case persist.MutationAddCollectionWant, persist.MutationRemoveCollectionWant:
		set.AddWallet(m.WalletID)
		for nftID := range prior.CollectionMembers[m.Collection] {
			set.NFTs[nftID] = true
			set.AddWallet(prior.Owner(nftID))
		}
		backwardOneHop(prior, m.WalletID, set)
		if m.Kind == persist.MutationRemoveCollectionWant {
			for _, loop := range loops.LoopsForWallet(m.WalletID) {
				if loopReceivesFromCollection(prior, loop, m.WalletID, m.Collection) {
					set.FlaggedLoops = append(set.FlaggedLoops, loop.ID)
					for _, w := range loop.Wallets() {
						set.AddWallet(w)
					}
				}
			}
		}

	case persist.MutationUpdateRejections:
		set.AddWallet(m.WalletID)
		for _, loop := range loops.LoopsForWallet(m.WalletID) {
			set.FlaggedLoops = append(set.FlaggedLoops, loop.ID)
			for _, w := range loop.Wallets() {
				set.AddWallet(w)
			}
		}
	}

	return set
}

// backwardOneHop adds every wallet with an edge into w: owners of the NFTs w
// wants, plus owners of members of the collections w wants.
func backwardOneHop(prior *Snapshot, walletID persist.WalletID, set *AffectedSet) {
	w, ok := prior.Wallets[walletID]
	if !ok {
		return
	}
	for nftID := range w.WantedNFTs {
		set.AddWallet(prior.Owner(nftID))
	}
	for coll := range w.WantedCollections {
		for nftID := range prior.CollectionMembers[coll] {
			set.AddWallet(prior.Owner(nftID))
		}
	}
}

// loopsWithEdge returns active loops containing the step owner -> receiver
// carrying the given NFT.
func loopsWithEdge(loops LoopIndex, receiver, owner persist.WalletID, nftID persist.NFTID) []persist.TradeLoop {
	if owner == "" {
		return nil
	}
	var out []persist.TradeLoop
	for _, loop := range loops.LoopsWithNFT(nftID) {
		for _, step := range loop.Steps {
			if step.From != owner || step.To != receiver {
				continue
			}
			for _, n := range step.NFTs {
				if n.ID == nftID {
					out = append(out, loop)
				}
			}
		}
	}
	return out
}

// loopReceivesFromCollection reports whether the wallet's incoming step in
// the loop is justified only by the given collection want.
func loopReceivesFromCollection(prior *Snapshot, loop persist.TradeLoop, walletID persist.WalletID, coll persist.CollectionID) bool {
	w, ok := prior.Wallets[walletID]
	if !ok {
		return false
	}
	for _, step := range loop.Steps {
		if step.To != walletID {
			continue
		}
		for _, n := range step.NFTs {
			if n.Collection == coll && !w.WantedNFTs[n.ID] {
				return true
			}
		}
	}
	return false
}
