package graph

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/barterlabs/go-barter/service/persist"
)

// Budget is the shared allowance a discovery pass hands to every enumerator
// it spawns: remaining cycle count plus a wall-clock deadline. Safe for
// concurrent use across SCCs.
type Budget struct {
	mu        sync.Mutex
	remaining int
	deadline  time.Time
}

// NewBudget returns a budget of maxCycles cycles within timeout. A
// non-positive maxCycles means unlimited; a non-positive timeout means no
// deadline.
func NewBudget(maxCycles int, timeout time.Duration) *Budget {
	if maxCycles <= 0 {
		maxCycles = -1
	}
	b := &Budget{remaining: maxCycles}
	if timeout > 0 {
		b.deadline = time.Now().Add(timeout)
	}
	return b
}

// TakeCycle consumes one cycle from the budget and reports whether it was
// available.
func (b *Budget) TakeCycle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining == 0 {
		return false
	}
	if b.remaining > 0 {
		b.remaining--
	}
	return true
}

// Expired reports whether the deadline has passed.
func (b *Budget) Expired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.deadline.IsZero() && time.Now().After(b.deadline)
}

// EnumeratorConfig bounds elementary cycle enumeration inside one SCC.
type EnumeratorConfig struct {
	MaxDepth        int
	MaxCyclesPerSCC int
	// CancelEvery is how many DFS pops pass between cooperative
	// cancellation checks.
	CancelEvery int
}

// DefaultEnumeratorConfig mirrors the documented defaults.
func DefaultEnumeratorConfig() EnumeratorConfig {
	return EnumeratorConfig{
		MaxDepth:        10,
		MaxCyclesPerSCC: 1000,
		CancelEvery:     1024,
	}
}

// EnumerateResult carries the loops found in one SCC and whether a bound cut
// the search short.
type EnumerateResult struct {
	Loops     []persist.TradeLoop
	Truncated bool
}

// EnumerateCycles finds elementary directed cycles within one SCC using
// Johnson's algorithm with blocking sets, in iterative form. Vertex
// iteration is in sorted wallet order and adjacency is sorted by target, so
// two runs over identical graphs emit identical loops in identical order.
func EnumerateCycles(ctx context.Context, p *Projection, scc []persist.WalletID, opts EdgeOptions, cfg EnumeratorConfig, budget *Budget) (EnumerateResult, error) {
	var result EnumerateResult

	k := len(scc)
	if k < 2 {
		return result, nil
	}
	if cfg.CancelEvery <= 0 {
		cfg.CancelEvery = 1024
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}

	vertices := make([]persist.WalletID, k)
	copy(vertices, scc)
	sortWallets(vertices)

	indexOf := make(map[persist.WalletID]int, k)
	for i, v := range vertices {
		indexOf[v] = i
	}

	within := make(map[persist.WalletID]bool, k)
	for _, v := range vertices {
		within[v] = true
	}

	// adj[i] lists successor indexes in ascending order; edgeNFTs holds the
	// candidate NFTs justifying each edge.
	adj := make([][]int, k)
	edgeNFTs := make([]map[int][]persist.NFT, k)
	for i, v := range vertices {
		edges := OutEdges(p, v, opts)
		edgeNFTs[i] = map[int][]persist.NFT{}
		for _, e := range edges {
			j, ok := indexOf[e.To]
			if !ok {
				continue
			}
			adj[i] = append(adj[i], j)
			edgeNFTs[i][j] = e.NFTs
		}
		sort.Ints(adj[i])
	}

	blocked := make([]bool, k)
	blockList := make([]map[int]bool, k)
	for i := range blockList {
		blockList[i] = map[int]bool{}
	}

	var unblock func(v int)
	unblock = func(v int) {
		work := []int{v}
		for len(work) > 0 {
			u := work[len(work)-1]
			work = work[:len(work)-1]
			if !blocked[u] {
				continue
			}
			blocked[u] = false
			for w := range blockList[u] {
				delete(blockList[u], w)
				if blocked[w] {
					work = append(work, w)
				}
			}
		}
	}

	type frame struct {
		v      int
		child  int
		found  bool
		pruned bool
	}

	cyclesInSCC := 0
	pops := 0

	for s := 0; s < k; s++ {
		for i := s; i < k; i++ {
			blocked[i] = false
			blockList[i] = map[int]bool{}
		}

		path := []int{s}
		blocked[s] = true
		frames := []frame{{v: s}}

		for len(frames) > 0 {
			pops++
			if pops%cfg.CancelEvery == 0 {
				if err := ctx.Err(); err != nil {
					return result, err
				}
				if budget != nil && budget.Expired() {
					result.Truncated = true
					return result, nil
				}
			}

			f := &frames[len(frames)-1]
			successors := adj[f.v]
			descended := false

			for f.child < len(successors) {
				w := successors[f.child]
				f.child++
				if w < s {
					continue
				}
				if w == s {
					loop := buildLoop(vertices, path, edgeNFTs)
					if cfg.MaxCyclesPerSCC > 0 && cyclesInSCC >= cfg.MaxCyclesPerSCC {
						result.Truncated = true
						return result, nil
					}
					if budget != nil && !budget.TakeCycle() {
						result.Truncated = true
						return result, nil
					}
					cyclesInSCC++
					result.Loops = append(result.Loops, loop)
					f.found = true
					continue
				}
				if len(path) >= cfg.MaxDepth {
					// Depth-pruned branches count as productive so blocking
					// never suppresses shorter cycles elsewhere.
					f.pruned = true
					continue
				}
				if !blocked[w] {
					blocked[w] = true
					path = append(path, w)
					frames = append(frames, frame{v: w})
					descended = true
					break
				}
			}

			if descended {
				continue
			}

			productive := f.found || f.pruned
			if productive {
				unblock(f.v)
			} else {
				for _, w := range successors {
					if w >= s {
						blockList[w][f.v] = true
					}
				}
			}

			frames = frames[:len(frames)-1]
			path = path[:len(path)-1]
			if len(frames) > 0 && productive {
				frames[len(frames)-1].found = true
			}
		}
	}

	return result, nil
}

// buildLoop promotes a DFS path into a TradeLoop: for every step exactly one
// NFT is chosen, the one whose estimated value sits closest to the median
// candidate value of the whole cycle (ties to the lexicographically smaller
// id).
func buildLoop(vertices []persist.WalletID, path []int, edgeNFTs []map[int][]persist.NFT) persist.TradeLoop {
	n := len(path)
	candidates := make([][]persist.NFT, n)
	var values []float64
	for i := 0; i < n; i++ {
		from := path[i]
		to := path[(i+1)%n]
		candidates[i] = edgeNFTs[from][to]
		for _, nft := range candidates[i] {
			values = append(values, nft.EstimatedValue)
		}
	}
	median := medianOf(values)

	steps := make([]persist.TradeStep, n)
	for i := 0; i < n; i++ {
		chosen := chooseClosest(candidates[i], median)
		steps[i] = persist.TradeStep{
			From: vertices[path[i]],
			To:   vertices[path[(i+1)%n]],
			NFTs: []persist.NFT{chosen},
		}
	}

	return persist.TradeLoop{
		ID:           persist.CanonicalLoopID(steps),
		Steps:        steps,
		Participants: n,
	}
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func chooseClosest(nfts []persist.NFT, median float64) persist.NFT {
	best := nfts[0]
	bestDist := math.Abs(best.EstimatedValue - median)
	for _, n := range nfts[1:] {
		d := math.Abs(n.EstimatedValue - median)
		if d < bestDist || (d == bestDist && n.ID < best.ID) {
			best = n
			bestDist = d
		}
	}
	return best
}
