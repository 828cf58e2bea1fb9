package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// TradeStep is one hop of a trade loop: From gives the step's NFTs to To.
type TradeStep struct {
	From WalletID `json:"from"`
	To   WalletID `json:"to"`
	NFTs []NFT    `json:"nfts"`
}

// LoopMetrics are the component scores that make up a loop's quality score.
type LoopMetrics struct {
	Efficiency          float64 `json:"efficiency"`
	Fairness            float64 `json:"fairness"`
	Demand              float64 `json:"demand"`
	CollectionDiversity float64 `json:"collectionDiversity"`
}

// TradeLoop is an elementary cycle promoted to a scheduled barter: every
// participant gives the NFTs of its outgoing step and receives the NFTs of
// its incoming step.
type TradeLoop struct {
	ID           LoopID      `json:"id"`
	Steps        []TradeStep `json:"steps"`
	Participants int         `json:"participants"`
	QualityScore float64     `json:"qualityScore"`
	Metrics      LoopMetrics `json:"metrics"`
	CreatedAt    time.Time   `json:"-"`
}

// Wallets returns the loop's participants in step order.
func (l TradeLoop) Wallets() []WalletID {
	out := make([]WalletID, len(l.Steps))
	for i, s := range l.Steps {
		out[i] = s.From
	}
	return out
}

// ContainsWallet reports whether the wallet participates in the loop.
func (l TradeLoop) ContainsWallet(id WalletID) bool {
	for _, s := range l.Steps {
		if s.From == id {
			return true
		}
	}
	return false
}

// ContainsNFT reports whether the NFT is given in any step of the loop.
func (l TradeLoop) ContainsNFT(id NFTID) bool {
	for _, s := range l.Steps {
		for _, n := range s.NFTs {
			if n.ID == id {
				return true
			}
		}
	}
	return false
}

// CanonicalLoopID computes the rotation-invariant id of a loop: the SHA-256
// of the step tuples starting from the rotation with the lexicographically
// smallest serialization. Two loops that are rotations of each other hash to
// the same id.
func CanonicalLoopID(steps []TradeStep) LoopID {
	tuples := make([]string, len(steps))
	for i, s := range steps {
		ids := make([]string, len(s.NFTs))
		for j, n := range s.NFTs {
			ids[j] = string(n.ID)
		}
		sort.Strings(ids)
		tuples[i] = string(s.From) + "|" + strings.Join(ids, ",")
	}

	best := 0
	for i := 1; i < len(tuples); i++ {
		if less(tuples, i, best) {
			best = i
		}
	}

	h := sha256.New()
	for i := 0; i < len(tuples); i++ {
		h.Write([]byte(tuples[(best+i)%len(tuples)]))
		h.Write([]byte{';'})
	}
	return LoopID(hex.EncodeToString(h.Sum(nil)))
}

// less compares the rotation starting at i against the rotation starting at j.
func less(tuples []string, i, j int) bool {
	n := len(tuples)
	for k := 0; k < n; k++ {
		a, b := tuples[(i+k)%n], tuples[(j+k)%n]
		if a != b {
			return a < b
		}
	}
	return false
}
