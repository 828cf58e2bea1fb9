package graph

import (
	"sort"

	"github.com/barterlabs/go-barter/service/persist"
)

// Edge is a directed wallet-to-wallet relation: From owns every NFT in NFTs
// and To wants each of them, directly or through a collection want.
type Edge struct {
	From persist.WalletID
	To   persist.WalletID
	NFTs []persist.NFT
}

// EdgeOptions controls on-demand edge materialization.
type EdgeOptions struct {
	// EnableCollections expands collection-level wants into concrete NFTs.
	EnableCollections bool
	// MaxCollectionExpansion caps how many collection-derived NFTs a single
	// (from, to) pair may contribute, highest estimated value first.
	MaxCollectionExpansion int
}

// DefaultMaxCollectionExpansion bounds lazy collection want expansion.
const DefaultMaxCollectionExpansion = 64

// OutEdges materializes the outgoing edges of a wallet, sorted by target
// wallet id; each edge's NFTs are sorted by id. Rejection lists filter here,
// at construction time.
func OutEdges(p *Projection, from persist.WalletID, opts EdgeOptions) []Edge {
	owner, ok := p.Wallets[from]
	if !ok {
		return nil
	}

	direct := map[persist.WalletID][]persist.NFT{}
	for nftID := range owner.OwnedNFTs {
		nft, ok := p.NFTs[nftID]
		if !ok {
			continue
		}
		for _, to := range p.WantIndex[nftID] {
			if !edgeAllowed(p, owner, to, nftID) {
				continue
			}
			direct[to] = append(direct[to], nft)
		}
	}

	collected := map[persist.WalletID][]persist.NFT{}
	if opts.EnableCollections {
		limit := opts.MaxCollectionExpansion
		if limit <= 0 {
			limit = DefaultMaxCollectionExpansion
		}
		for to, nfts := range collectionMatches(p, owner) {
			if len(nfts) > limit {
				nfts = nfts[:limit]
			}
			collected[to] = nfts
		}
	}

	targets := map[persist.WalletID]bool{}
	for to := range direct {
		targets[to] = true
	}
	for to := range collected {
		targets[to] = true
	}

	edges := make([]Edge, 0, len(targets))
	for to := range targets {
		seen := map[persist.NFTID]bool{}
		var nfts []persist.NFT
		for _, n := range direct[to] {
			if !seen[n.ID] {
				seen[n.ID] = true
				nfts = append(nfts, n)
			}
		}
		for _, n := range collected[to] {
			if !seen[n.ID] {
				seen[n.ID] = true
				nfts = append(nfts, n)
			}
		}
		sort.Slice(nfts, func(i, j int) bool { return nfts[i].ID < nfts[j].ID })
		edges = append(edges, Edge{From: from, To: to, NFTs: nfts})
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	return edges
}

// collectionMatches returns, per receiving wallet, the owner's NFTs matching
// the receiver's collection wants, highest estimated value first.
func collectionMatches(p *Projection, owner *persist.Wallet) map[persist.WalletID][]persist.NFT {
	out := map[persist.WalletID][]persist.NFT{}

	byCollection := map[persist.CollectionID][]persist.NFT{}
	for nftID := range owner.OwnedNFTs {
		nft, ok := p.NFTs[nftID]
		if !ok || nft.Collection == "" {
			continue
		}
		byCollection[nft.Collection] = append(byCollection[nft.Collection], nft)
	}

	for coll, owned := range byCollection {
		wanters := p.CollectionWanters[coll]
		if len(wanters) == 0 {
			continue
		}
		sortNFTsByValue(owned)
		for _, to := range wanters {
			for _, nft := range owned {
				if !edgeAllowed(p, owner, to, nft.ID) {
					continue
				}
				out[to] = append(out[to], nft)
			}
		}
	}

	for _, nfts := range out {
		sortNFTsByValue(nfts)
	}
	return out
}

// edgeAllowed applies the structural edge rules: no self-trade, mutual
// rejection lists clear, and the receiver hasn't rejected the NFT.
func edgeAllowed(p *Projection, owner *persist.Wallet, to persist.WalletID, nft persist.NFTID) bool {
	if to == owner.ID {
		return false
	}
	receiver, ok := p.Wallets[to]
	if !ok {
		return false
	}
	if owner.RejectedWallets[to] || receiver.RejectedWallets[owner.ID] {
		return false
	}
	if receiver.RejectedNFTs[nft] {
		return false
	}
	return true
}

// Successors returns the distinct targets of a wallet's outgoing edges,
// restricted to the given vertex set (nil means unrestricted), sorted.
func Successors(p *Projection, from persist.WalletID, within map[persist.WalletID]bool, opts EdgeOptions) []persist.WalletID {
	edges := OutEdges(p, from, opts)
	out := make([]persist.WalletID, 0, len(edges))
	for _, e := range edges {
		if within != nil && !within[e.To] {
			continue
		}
		out = append(out, e.To)
	}
	return out
}
