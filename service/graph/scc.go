package graph

import (
	"context"
	"sort"
	"time"

	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
)

// SCCConfig bounds the strongly-connected-component search.
type SCCConfig struct {
	MaxVertices int
	Timeout     time.Duration
	// CancelEvery is how many edge relaxations pass between cooperative
	// cancellation checks.
	CancelEvery int
	// BatchLogThreshold logs a progress line when the induced subgraph is at
	// least this large.
	BatchLogThreshold int
}

// DefaultSCCConfig mirrors the documented defaults.
func DefaultSCCConfig() SCCConfig {
	return SCCConfig{
		MaxVertices:       100_000,
		Timeout:           45 * time.Second,
		CancelEvery:       1024,
		BatchLogThreshold: 100_000,
	}
}

// SCCResult is the set of components found, smallest first. Truncated is set
// when a bound cut the search short.
type SCCResult struct {
	Components [][]persist.WalletID
	Truncated  bool
}

// FindSCCs runs iterative Tarjan over the subgraph induced by the given
// vertex set and returns components of size >= 2 sorted by size ascending.
// A 2-cycle A<->B survives as a component of size 2; singletons cannot
// carry a cycle and are discarded.
func FindSCCs(ctx context.Context, p *Projection, vertices map[persist.WalletID]bool, opts EdgeOptions, cfg SCCConfig) (SCCResult, error) {
	if cfg.CancelEvery <= 0 {
		cfg.CancelEvery = 1024
	}

	ordered := make([]persist.WalletID, 0, len(vertices))
	for v := range vertices {
		ordered = append(ordered, v)
	}
	sortWallets(ordered)

	var result SCCResult
	if cfg.MaxVertices > 0 && len(ordered) > cfg.MaxVertices {
		logger.For(ctx).Warnf("scc: induced subgraph has %d vertices, truncating to %d", len(ordered), cfg.MaxVertices)
		ordered = ordered[:cfg.MaxVertices]
		vertices = make(map[persist.WalletID]bool, len(ordered))
		for _, v := range ordered {
			vertices[v] = true
		}
		result.Truncated = true
	}

	if cfg.BatchLogThreshold > 0 && len(ordered) >= cfg.BatchLogThreshold {
		logger.For(ctx).Infof("scc: processing large batch of %d vertices", len(ordered))
	}

	deadline := time.Time{}
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	index := make(map[persist.WalletID]int, len(ordered))
	lowlink := make(map[persist.WalletID]int, len(ordered))
	onStack := make(map[persist.WalletID]bool, len(ordered))
	var stack []persist.WalletID
	next := 0
	relaxations := 0

	succs := make(map[persist.WalletID][]persist.WalletID, len(ordered))
	successors := func(v persist.WalletID) []persist.WalletID {
		if s, ok := succs[v]; ok {
			return s
		}
		s := Successors(p, v, vertices, opts)
		succs[v] = s
		return s
	}

	type frame struct {
		v     persist.WalletID
		child int
	}

	for _, root := range ordered {
		if _, visited := index[root]; visited {
			continue
		}

		frames := []frame{{v: root}}
		index[root] = next
		lowlink[root] = next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			relaxations++
			if relaxations%cfg.CancelEvery == 0 {
				if err := ctx.Err(); err != nil {
					return result, err
				}
				if !deadline.IsZero() && time.Now().After(deadline) {
					result.Truncated = true
					finalizeSCCResult(&result)
					return result, nil
				}
			}

			f := &frames[len(frames)-1]
			adj := successors(f.v)

			if f.child < len(adj) {
				w := adj[f.child]
				f.child++
				if _, visited := index[w]; !visited {
					index[w] = next
					lowlink[w] = next
					next++
					stack = append(stack, w)
					onStack[w] = true
					frames = append(frames, frame{v: w})
				} else if onStack[w] {
					if index[w] < lowlink[f.v] {
						lowlink[f.v] = index[w]
					}
				}
				continue
			}

			// All successors explored; pop the frame.
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[f.v] < lowlink[parent.v] {
					lowlink[parent.v] = lowlink[f.v]
				}
			}

			if lowlink[f.v] == index[f.v] {
				var comp []persist.WalletID
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == f.v {
						break
					}
				}
				if len(comp) >= 2 {
					sortWallets(comp)
					result.Components = append(result.Components, comp)
				}
			}
		}
	}

	finalizeSCCResult(&result)
	return result, nil
}

func finalizeSCCResult(r *SCCResult) {
	sort.Slice(r.Components, func(i, j int) bool {
		if len(r.Components[i]) != len(r.Components[j]) {
			return len(r.Components[i]) < len(r.Components[j])
		}
		return r.Components[i][0] < r.Components[j][0]
	})
}
