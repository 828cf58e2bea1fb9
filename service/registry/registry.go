package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/barterlabs/go-barter/service/graph"
	"github.com/barterlabs/go-barter/service/persist"
)

// EventKind tags registry lifecycle events.
type EventKind string

const (
	LoopDiscovered  EventKind = "trade_loop_discovered"
	LoopInvalidated EventKind = "trade_loop_invalidated"
	LoopCompleted   EventKind = "trade_loop_completed"
)

// Event records a loop lifecycle transition. For a given loop id, discovered
// always precedes invalidated or completed, and the latter two are mutually
// exclusive within one lifecycle.
type Event struct {
	Kind    EventKind
	Loop    persist.TradeLoop
	Reason  string
	Trigger string
}

// ErrLoopNotFound is returned when a loop id resolves to nothing.
type ErrLoopNotFound struct {
	ID persist.LoopID
}

func (e ErrLoopNotFound) Error() string {
	return "loop not found: " + e.ID.String()
}

// Registry holds a tenant's active trade loops, deduplicated by canonical
// loop id. Writes come only from the tenant pipeline; reads are concurrent.
type Registry struct {
	mu    sync.RWMutex
	loops map[persist.LoopID]persist.TradeLoop
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{loops: map[persist.LoopID]persist.TradeLoop{}}
}

// Restore seeds the registry from persisted loops.
func Restore(loops []persist.TradeLoop) *Registry {
	r := New()
	for _, l := range loops {
		r.loops[l.ID] = l
	}
	return r
}

// Apply diffs an enumerator batch against the active set. New candidates are
// inserted and emit discovered events; active loops that intersect the
// affected set but were not re-discovered (or were explicitly flagged) are
// removed and emit invalidated events. Loops outside the affected set are
// left untouched; their own affected events re-judge them later.
func (r *Registry) Apply(candidates []persist.TradeLoop, affected *graph.AffectedSet, trigger string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidateIDs := make(map[persist.LoopID]bool, len(candidates))
	var events []Event

	for _, c := range candidates {
		candidateIDs[c.ID] = true
		if _, exists := r.loops[c.ID]; exists {
			continue
		}
		c.CreatedAt = time.Now()
		r.loops[c.ID] = c
		events = append(events, Event{Kind: LoopDiscovered, Loop: c, Trigger: trigger})
	}

	flagged := make(map[persist.LoopID]bool, len(affected.FlaggedLoops))
	for _, id := range affected.FlaggedLoops {
		flagged[id] = true
	}

	var invalidated []persist.TradeLoop
	for id, loop := range r.loops {
		if candidateIDs[id] {
			continue
		}
		if flagged[id] || intersectsAffected(loop, affected) {
			invalidated = append(invalidated, loop)
		}
	}
	// Map iteration order is random; emit invalidations deterministically.
	sort.Slice(invalidated, func(i, j int) bool { return invalidated[i].ID < invalidated[j].ID })

	for _, loop := range invalidated {
		delete(r.loops, loop.ID)
		events = append(events, Event{Kind: LoopInvalidated, Loop: loop, Reason: "graph_changed", Trigger: trigger})
	}

	return events
}

// MarkCompleted removes a loop that was executed externally.
func (r *Registry) MarkCompleted(id persist.LoopID) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loop, ok := r.loops[id]
	if !ok {
		return Event{}, ErrLoopNotFound{ID: id}
	}
	delete(r.loops, id)
	return Event{Kind: LoopCompleted, Loop: loop, Reason: "completed"}, nil
}

// Count returns the number of active loops.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loops)
}

// All returns the active loops sorted by descending quality score, then id.
func (r *Registry) All() []persist.TradeLoop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]persist.TradeLoop, 0, len(r.loops))
	for _, l := range r.loops {
		out = append(out, l)
	}
	sortLoops(out)
	return out
}

// QueryOptions filters loop queries.
type QueryOptions struct {
	WalletID persist.WalletID
	MinScore float64
	Limit    int
}

// Query returns active loops matching the options, best first.
func (r *Registry) Query(opts QueryOptions) []persist.TradeLoop {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []persist.TradeLoop
	for _, l := range r.loops {
		if opts.WalletID != "" && !l.ContainsWallet(opts.WalletID) {
			continue
		}
		if l.QualityScore < opts.MinScore {
			continue
		}
		out = append(out, l)
	}
	sortLoops(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// LoopsForWallet implements graph.LoopIndex.
func (r *Registry) LoopsForWallet(id persist.WalletID) []persist.TradeLoop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []persist.TradeLoop
	for _, l := range r.loops {
		if l.ContainsWallet(id) {
			out = append(out, l)
		}
	}
	return out
}

// LoopsWithNFT implements graph.LoopIndex.
func (r *Registry) LoopsWithNFT(id persist.NFTID) []persist.TradeLoop {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []persist.TradeLoop
	for _, l := range r.loops {
		if l.ContainsNFT(id) {
			out = append(out, l)
		}
	}
	return out
}

func intersectsAffected(loop persist.TradeLoop, affected *graph.AffectedSet) bool {
	for _, w := range loop.Wallets() {
		if affected.Wallets[w] {
			return true
		}
	}
	return false
}

func sortLoops(loops []persist.TradeLoop) {
	sort.Slice(loops, func(i, j int) bool {
		if loops[i].QualityScore != loops[j].QualityScore {
			return loops[i].QualityScore > loops[j].QualityScore
		}
		return loops[i].ID < loops[j].ID
	})
}
