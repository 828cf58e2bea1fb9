package score

import (
	"github.com/barterlabs/go-barter/service/persist"
)

// Weights of the quality score components.
const (
	efficiencyWeight = 0.40
	fairnessWeight   = 0.30
	demandWeight     = 0.20
	diversityWeight  = 0.10

	// DefaultMinScore is the publication threshold for discovered loops.
	DefaultMinScore = 0.5

	// demandSaturation is the want count at which an NFT counts as fully
	// demanded.
	demandSaturation = 10

	epsilon = 1e-9
)

// Demand carries per-NFT demand metrics supplied by the caller.
type Demand struct {
	WantCount   int
	SupplyCount int
}

// DemandIndex maps NFT ids to their demand metrics.
type DemandIndex map[persist.NFTID]Demand

// Scorer computes loop quality scores. It is pure: the same loop with the
// same demand index always scores identically.
type Scorer struct{}

// Score returns the loop's quality score in [0, 1] along with its component
// metrics.
func (Scorer) Score(loop persist.TradeLoop, demand DemandIndex) (float64, persist.LoopMetrics) {
	metrics := persist.LoopMetrics{
		Efficiency:          efficiency(loop.Participants),
		Fairness:            fairness(loop),
		Demand:              demandScore(loop, demand),
		CollectionDiversity: collectionDiversity(loop),
	}

	total := efficiencyWeight*metrics.Efficiency +
		fairnessWeight*metrics.Fairness +
		demandWeight*metrics.Demand +
		diversityWeight*metrics.CollectionDiversity

	return clamp01(total), metrics
}

// efficiency rewards small loops: 1/participants normalized so a 2-party
// loop scores 1.0, then linearly mapped into [0.4, 1.0].
func efficiency(participants int) float64 {
	if participants < 2 {
		return 0
	}
	raw := 2.0 / float64(participants)
	return 0.4 + 0.6*raw
}

// fairness compares the chosen NFT values across steps: identical values
// score 1, a large spread approaches 0.
func fairness(loop persist.TradeLoop) float64 {
	var values []float64
	for _, step := range loop.Steps {
		for _, nft := range step.NFTs {
			values = append(values, nft.EstimatedValue)
		}
	}
	if len(values) == 0 {
		return 0
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max < epsilon {
		// No valuations at all; treat as perfectly even.
		return 1
	}
	return clamp01(1 - (max-min)/max)
}

// demandScore is the mean saturated want count across the loop's NFTs.
func demandScore(loop persist.TradeLoop, demand DemandIndex) float64 {
	var sum float64
	var count int
	for _, step := range loop.Steps {
		for _, nft := range step.NFTs {
			count++
			d := demand[nft.ID]
			ratio := float64(d.WantCount) / demandSaturation
			if ratio > 1 {
				ratio = 1
			}
			sum += ratio
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// collectionDiversity is the ratio of distinct collections to participants.
func collectionDiversity(loop persist.TradeLoop) float64 {
	if loop.Participants == 0 {
		return 0
	}
	seen := map[persist.CollectionID]bool{}
	for _, step := range loop.Steps {
		for _, nft := range step.NFTs {
			if nft.Collection != "" {
				seen[nft.Collection] = true
			}
		}
	}
	return clamp01(float64(len(seen)) / float64(loop.Participants))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BuildDemandIndex derives demand metrics for the loop's NFTs from a
// projection's want index.
func BuildDemandIndex(wantCounts map[persist.NFTID]int, supplyCounts map[persist.NFTID]int) DemandIndex {
	idx := make(DemandIndex, len(wantCounts))
	for id, wants := range wantCounts {
		idx[id] = Demand{WantCount: wants, SupplyCount: supplyCounts[id]}
	}
	return idx
}
