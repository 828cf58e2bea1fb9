package graph

import (
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/barterlabs/go-barter/service/persist"
)

// Snapshot is an immutable view of a tenant graph at a version. It shares
// structure with the live graph; the store copies on write, so holders can
// read without coordination.
type Snapshot struct {
	NFTs              map[persist.NFTID]persist.NFT
	Wallets           map[persist.WalletID]*persist.Wallet
	WantIndex         map[persist.NFTID]map[persist.WalletID]bool
	CollectionWanters map[persist.CollectionID]map[persist.WalletID]bool
	CollectionMembers map[persist.CollectionID]map[persist.NFTID]bool
	Version           uint64
	TakenAt           time.Time
}

// Owner returns the owner of an NFT, or "" if the NFT is unknown.
func (s *Snapshot) Owner(id persist.NFTID) persist.WalletID {
	if n, ok := s.NFTs[id]; ok {
		return n.Owner
	}
	return ""
}

// Fingerprint is a 64-bit digest of the graph's shape: sorted wallet ids,
// per-wallet owned/want counts, and global counts. Two graphs with the same
// fingerprint produce the same projection for caching purposes.
func (s *Snapshot) Fingerprint() uint64 {
	ids := make([]string, 0, len(s.Wallets))
	for id := range s.Wallets {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	h := xxhash.New()
	var buf [8]byte
	writeInt := func(v int) {
		putUint64(&buf, uint64(v))
		h.Write(buf[:])
	}

	for _, id := range ids {
		h.Write([]byte(id))
		w := s.Wallets[persist.WalletID(id)]
		writeInt(len(w.OwnedNFTs))
		writeInt(len(w.WantedNFTs))
		writeInt(len(w.WantedCollections))
		writeInt(len(w.RejectedWallets))
		writeInt(len(w.RejectedNFTs))
	}
	writeInt(len(s.NFTs))
	writeInt(len(s.WantIndex))
	return h.Sum64()
}

func putUint64(buf *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

// Projection is the derived structure the enumerator consumes: deep-copied
// entities plus sorted indexes for deterministic iteration. A projection
// never aliases graph state; the transformation cache hands out deep copies.
type Projection struct {
	WalletIDs         []persist.WalletID
	Wallets           map[persist.WalletID]*persist.Wallet
	NFTs              map[persist.NFTID]persist.NFT
	WantIndex         map[persist.NFTID][]persist.WalletID
	CollectionWanters map[persist.CollectionID][]persist.WalletID
	CollectionMembers map[persist.CollectionID][]persist.NFT
	Version           uint64
}

// BuildProjection materializes a projection from a snapshot.
func BuildProjection(s *Snapshot) *Projection {
	p := &Projection{
		WalletIDs:         make([]persist.WalletID, 0, len(s.Wallets)),
		Wallets:           make(map[persist.WalletID]*persist.Wallet, len(s.Wallets)),
		NFTs:              make(map[persist.NFTID]persist.NFT, len(s.NFTs)),
		WantIndex:         make(map[persist.NFTID][]persist.WalletID, len(s.WantIndex)),
		CollectionWanters: make(map[persist.CollectionID][]persist.WalletID, len(s.CollectionWanters)),
		CollectionMembers: make(map[persist.CollectionID][]persist.NFT, len(s.CollectionMembers)),
		Version:           s.Version,
	}

	for id, w := range s.Wallets {
		p.WalletIDs = append(p.WalletIDs, id)
		p.Wallets[id] = w.Copy()
	}
	sortWallets(p.WalletIDs)

	for id, n := range s.NFTs {
		p.NFTs[id] = n
	}

	for nft, set := range s.WantIndex {
		if len(set) == 0 {
			continue
		}
		p.WantIndex[nft] = sortedWalletSet(set)
	}

	for coll, set := range s.CollectionWanters {
		if len(set) == 0 {
			continue
		}
		p.CollectionWanters[coll] = sortedWalletSet(set)
	}

	for coll, members := range s.CollectionMembers {
		if len(members) == 0 {
			continue
		}
		nfts := make([]persist.NFT, 0, len(members))
		for id := range members {
			if n, ok := s.NFTs[id]; ok {
				nfts = append(nfts, n)
			}
		}
		sortNFTsByValue(nfts)
		p.CollectionMembers[coll] = nfts
	}

	return p
}

// Copy returns a deep copy of the projection.
func (p *Projection) Copy() *Projection {
	cp := &Projection{
		WalletIDs:         append([]persist.WalletID(nil), p.WalletIDs...),
		Wallets:           make(map[persist.WalletID]*persist.Wallet, len(p.Wallets)),
		NFTs:              make(map[persist.NFTID]persist.NFT, len(p.NFTs)),
		WantIndex:         make(map[persist.NFTID][]persist.WalletID, len(p.WantIndex)),
		CollectionWanters: make(map[persist.CollectionID][]persist.WalletID, len(p.CollectionWanters)),
		CollectionMembers: make(map[persist.CollectionID][]persist.NFT, len(p.CollectionMembers)),
		Version:           p.Version,
	}
	for id, w := range p.Wallets {
		cp.Wallets[id] = w.Copy()
	}
	for id, n := range p.NFTs {
		cp.NFTs[id] = n
	}
	for k, v := range p.WantIndex {
		cp.WantIndex[k] = append([]persist.WalletID(nil), v...)
	}
	for k, v := range p.CollectionWanters {
		cp.CollectionWanters[k] = append([]persist.WalletID(nil), v...)
	}
	for k, v := range p.CollectionMembers {
		cp.CollectionMembers[k] = append([]persist.NFT(nil), v...)
	}
	return cp
}

func sortWallets(ids []persist.WalletID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedWalletSet(set map[persist.WalletID]bool) []persist.WalletID {
	out := make([]persist.WalletID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortWallets(out)
	return out
}

// sortNFTsByValue orders by estimated value descending, then id ascending.
func sortNFTsByValue(nfts []persist.NFT) {
	sort.Slice(nfts, func(i, j int) bool {
		if nfts[i].EstimatedValue != nfts[j].EstimatedValue {
			return nfts[i].EstimatedValue > nfts[j].EstimatedValue
		}
		return nfts[i].ID < nfts[j].ID
	})
}
