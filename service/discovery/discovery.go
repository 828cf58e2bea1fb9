package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/barterlabs/go-barter/service/graph"
	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
	"github.com/barterlabs/go-barter/service/score"
	"github.com/barterlabs/go-barter/service/transform"
	"github.com/barterlabs/go-barter/service/webhook"
)

// changeLogCap bounds the in-memory change log ring.
const changeLogCap = 10000

// CycleFinder enumerates cycles across a batch of SCCs. The Johnson-based
// finder is the only implementation shipped; a tenant config flag could
// select another without interface changes.
type CycleFinder interface {
	FindCycles(ctx context.Context, p *graph.Projection, sccs [][]persist.WalletID, opts graph.EdgeOptions, cfg graph.EnumeratorConfig, budget *graph.Budget, concurrency int) ([]persist.TradeLoop, bool, error)
}

// JohnsonFinder runs the bounded Johnson enumerator per SCC, in parallel up
// to the given concurrency. Results are concatenated in SCC order so output
// stays deterministic regardless of scheduling.
type JohnsonFinder struct{}

func (JohnsonFinder) FindCycles(ctx context.Context, p *graph.Projection, sccs [][]persist.WalletID, opts graph.EdgeOptions, cfg graph.EnumeratorConfig, budget *graph.Budget, concurrency int) ([]persist.TradeLoop, bool, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]graph.EnumerateResult, len(sccs))
	workers := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx)
	for i, scc := range sccs {
		i, scc := i, scc
		workers.Go(func(ctx context.Context) error {
			res, err := graph.EnumerateCycles(ctx, p, scc, opts, cfg, budget)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, false, err
	}

	var loops []persist.TradeLoop
	truncated := false
	for _, res := range results {
		loops = append(loops, res.Loops...)
		truncated = truncated || res.Truncated
	}
	return loops, truncated, nil
}

// Stats are per-tenant discovery counters surfaced by the status endpoint.
type Stats struct {
	MutationsProcessed uint64    `json:"mutationsProcessed"`
	LoopsDiscovered    uint64    `json:"loopsDiscovered"`
	LoopsInvalidated   uint64    `json:"loopsInvalidated"`
	TruncatedRuns      uint64    `json:"truncatedRuns"`
	LastTruncated      bool      `json:"lastTruncated"`
	LastRunAt          time.Time `json:"lastRunAt"`
}

// Orchestrator routes one tenant's mutations through the discovery pipeline:
// delta detection, projection (cached), SCC decomposition, bounded cycle
// enumeration, scoring, registry diff, and webhook dispatch. It is driven
// exclusively by the tenant runtime's serial pipeline.
type Orchestrator struct {
	tenantID   persist.TenantID
	graph      *graph.Store
	delta      graph.DeltaEngine
	registry   *registry.Registry
	cache      *transform.Cache
	scorer     score.Scorer
	finder     CycleFinder
	dispatcher *webhook.Dispatcher

	configFn func() persist.TenantConfig

	sccConfig  graph.SCCConfig
	enumConfig graph.EnumeratorConfig

	mu        sync.RWMutex
	changeLog []persist.GraphChange
	stats     Stats
}

// New wires an orchestrator for one tenant. configFn is consulted at every
// run so config updates take effect without restarts.
func New(tenantID persist.TenantID, g *graph.Store, reg *registry.Registry, cache *transform.Cache, dispatcher *webhook.Dispatcher, configFn func() persist.TenantConfig) *Orchestrator {
	return &Orchestrator{
		tenantID:   tenantID,
		graph:      g,
		registry:   reg,
		cache:      cache,
		finder:     JohnsonFinder{},
		dispatcher: dispatcher,
		configFn:   configFn,
		sccConfig:  graph.DefaultSCCConfig(),
		enumConfig: graph.DefaultEnumeratorConfig(),
	}
}

// Process applies one mutation and runs the discovery pipeline. Returned
// errors are mutation-level (conflict, not found); pipeline exhaustion is
// recorded in stats, not surfaced.
func (o *Orchestrator) Process(ctx context.Context, m persist.Mutation) error {
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"tenant": o.tenantID, "mutation": m.Kind})

	if m.Kind == persist.MutationMarkCompleted {
		return o.markCompleted(ctx, m.LoopID)
	}

	cfg := o.configFn()
	if err := o.checkSecurity(cfg, m); err != nil {
		return err
	}

	prior := o.graph.Snapshot()

	if err := o.apply(m); err != nil {
		return err
	}
	o.cache.InvalidateTenant(o.tenantID)
	o.appendChange(m)

	affected := o.delta.Affected(prior, o.registry, m)
	if affected.Empty() {
		o.finishRun(false, nil)
		return nil
	}

	snap := o.graph.Snapshot()
	projection := o.projectionFor(snap)

	opts := graph.EdgeOptions{
		EnableCollections:      cfg.EnableCollectionTrading,
		MaxCollectionExpansion: graph.DefaultMaxCollectionExpansion,
	}

	closure := expandClosure(projection, affected, cfg.MaxDepth, opts)
	sccResult, err := graph.FindSCCs(ctx, projection, closure, opts, o.sccConfig)
	if err != nil {
		return err
	}

	sccs := make([][]persist.WalletID, 0, len(sccResult.Components))
	for _, comp := range sccResult.Components {
		if touchesAffected(comp, affected) {
			sccs = append(sccs, comp)
		}
	}

	enumCfg := o.enumConfig
	if cfg.MaxDepth > 0 {
		enumCfg.MaxDepth = cfg.MaxDepth
	}
	budget := graph.NewBudget(cfg.MaxLoopsPerRequest, 45*time.Second)

	candidates, truncated, err := o.finder.FindCycles(ctx, projection, sccs, opts, enumCfg, budget, cfg.SCCConcurrency)
	if err != nil {
		return err
	}
	truncated = truncated || sccResult.Truncated

	demand := demandIndex(projection)
	kept := candidates[:0]
	for _, c := range candidates {
		s, metrics := o.scorer.Score(c, demand)
		if s < cfg.MinScore {
			continue
		}
		c.QualityScore = s
		c.Metrics = metrics
		kept = append(kept, c)
	}

	events := o.registry.Apply(kept, affected, string(m.Kind))
	for _, ev := range events {
		o.dispatcher.Dispatch(ctx, ev)
	}

	o.finishRun(truncated, events)

	if truncated {
		logger.For(ctx).Infof("discovery truncated: %d candidates kept, %d events", len(kept), len(events))
	}
	return nil
}

func (o *Orchestrator) markCompleted(ctx context.Context, id persist.LoopID) error {
	event, err := o.registry.MarkCompleted(id)
	if err != nil {
		return err
	}
	o.dispatcher.Dispatch(ctx, event)
	o.finishRun(false, []registry.Event{event})
	return nil
}

func (o *Orchestrator) apply(m persist.Mutation) error {
	switch m.Kind {
	case persist.MutationAddNFT:
		return o.graph.AddNFT(*m.NFT)
	case persist.MutationRemoveNFT:
		return o.graph.RemoveNFT(m.NFTID)
	case persist.MutationAddWant:
		return o.graph.AddWant(m.WalletID, m.NFTID)
	case persist.MutationRemoveWant:
		return o.graph.RemoveWant(m.WalletID, m.NFTID)
	case persist.MutationAddCollectionWant:
		return o.graph.AddCollectionWant(m.WalletID, m.Collection)
	case persist.MutationRemoveCollectionWant:
		return o.graph.RemoveCollectionWant(m.WalletID, m.Collection)
	case persist.MutationUpdateRejections:
		return o.graph.UpdateRejections(m.WalletID, *m.Rejections)
	}
	return persist.ErrInvalidMutation{Reason: "unhandled mutation kind: " + string(m.Kind)}
}

func (o *Orchestrator) checkSecurity(cfg persist.TenantConfig, m persist.Mutation) error {
	switch m.Kind {
	case persist.MutationAddNFT:
		for _, blocked := range cfg.Security.BlacklistedCollections {
			if m.NFT.Collection == blocked {
				return persist.ErrCollectionBlacklisted{ID: blocked}
			}
		}
		if limit := cfg.Security.MaxNFTsPerWallet; limit > 0 {
			if w, ok := o.graph.Wallet(m.NFT.Owner); ok && len(w.OwnedNFTs) >= limit {
				return persist.ErrWalletLimitExceeded{Wallet: m.NFT.Owner, Limit: "maxNFTsPerWallet"}
			}
		}
	case persist.MutationAddWant:
		if limit := cfg.Security.MaxWantsPerWallet; limit > 0 {
			if w, ok := o.graph.Wallet(m.WalletID); ok && len(w.WantedNFTs) >= limit {
				return persist.ErrWalletLimitExceeded{Wallet: m.WalletID, Limit: "maxWantsPerWallet"}
			}
		}
	case persist.MutationAddCollectionWant:
		for _, blocked := range cfg.Security.BlacklistedCollections {
			if m.Collection == blocked {
				return persist.ErrCollectionBlacklisted{ID: blocked}
			}
		}
	}
	return nil
}

// projectionFor consults the transformation cache; on a miss it builds the
// projection and caches it. The cache is advisory, never a dependency.
func (o *Orchestrator) projectionFor(snap *graph.Snapshot) *graph.Projection {
	fingerprint := snap.Fingerprint()
	if p, ok := o.cache.Get(o.tenantID, fingerprint); ok {
		return p
	}
	p := graph.BuildProjection(snap)
	o.cache.Put(o.tenantID, fingerprint, p)
	return p
}

func (o *Orchestrator) appendChange(m persist.Mutation) {
	change := changeFor(m)
	if change == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.changeLog = append(o.changeLog, *change)
	if len(o.changeLog) > changeLogCap {
		o.changeLog = o.changeLog[len(o.changeLog)-changeLogCap:]
	}
}

// ChangeLog returns a copy of the in-memory change log, oldest first.
func (o *Orchestrator) ChangeLog() []persist.GraphChange {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]persist.GraphChange(nil), o.changeLog...)
}

// Stats returns a copy of the discovery counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

func (o *Orchestrator) finishRun(truncated bool, events []registry.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.MutationsProcessed++
	o.stats.LastTruncated = truncated
	o.stats.LastRunAt = time.Now()
	if truncated {
		o.stats.TruncatedRuns++
	}
	for _, ev := range events {
		switch ev.Kind {
		case registry.LoopDiscovered:
			o.stats.LoopsDiscovered++
		case registry.LoopInvalidated:
			o.stats.LoopsInvalidated++
		}
	}
}

// expandClosure grows the affected wallet set along forward and reverse
// edges up to maxDepth hops; SCC search runs on the induced subgraph.
func expandClosure(p *graph.Projection, affected *graph.AffectedSet, maxDepth int, opts graph.EdgeOptions) map[persist.WalletID]bool {
	closure := make(map[persist.WalletID]bool, len(affected.Wallets))
	frontier := make([]persist.WalletID, 0, len(affected.Wallets))
	for w := range affected.Wallets {
		if _, ok := p.Wallets[w]; ok {
			closure[w] = true
			frontier = append(frontier, w)
		}
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []persist.WalletID
		for _, v := range frontier {
			for _, succ := range graph.Successors(p, v, nil, opts) {
				if !closure[succ] {
					closure[succ] = true
					next = append(next, succ)
				}
			}
			for _, pred := range predecessors(p, v) {
				if !closure[pred] {
					closure[pred] = true
					next = append(next, pred)
				}
			}
		}
		frontier = next
	}
	return closure
}

// predecessors returns wallets with an edge into v: owners of NFTs v wants
// plus owners of members of collections v wants.
func predecessors(p *graph.Projection, v persist.WalletID) []persist.WalletID {
	w, ok := p.Wallets[v]
	if !ok {
		return nil
	}
	seen := map[persist.WalletID]bool{}
	var out []persist.WalletID
	add := func(id persist.WalletID) {
		if id != "" && id != v && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for nftID := range w.WantedNFTs {
		if nft, ok := p.NFTs[nftID]; ok {
			add(nft.Owner)
		}
	}
	for coll := range w.WantedCollections {
		for _, nft := range p.CollectionMembers[coll] {
			add(nft.Owner)
		}
	}
	return out
}

func touchesAffected(comp []persist.WalletID, affected *graph.AffectedSet) bool {
	for _, w := range comp {
		if affected.Wallets[w] {
			return true
		}
	}
	return false
}

func demandIndex(p *graph.Projection) score.DemandIndex {
	wants := make(map[persist.NFTID]int, len(p.WantIndex))
	supply := make(map[persist.NFTID]int, len(p.NFTs))
	for nftID, wanters := range p.WantIndex {
		wants[nftID] = len(wanters)
	}
	// Collection-level wants count toward every member's demand.
	for coll, wanters := range p.CollectionWanters {
		for _, nft := range p.CollectionMembers[coll] {
			wants[nft.ID] += len(wanters)
		}
	}
	for nftID := range p.NFTs {
		supply[nftID] = 1
	}
	return score.BuildDemandIndex(wants, supply)
}

// changeFor maps a mutation onto its change-log record.
func changeFor(m persist.Mutation) *persist.GraphChange {
	now := time.Now()
	switch m.Kind {
	case persist.MutationAddNFT:
		payload, _ := json.Marshal(m.NFT)
		return &persist.GraphChange{Kind: persist.ChangeNFTAdded, EntityID: m.NFT.ID.String(), Timestamp: now, Payload: payload}
	case persist.MutationRemoveNFT:
		return &persist.GraphChange{Kind: persist.ChangeNFTRemoved, EntityID: m.NFTID.String(), Timestamp: now}
	case persist.MutationAddWant, persist.MutationAddCollectionWant:
		payload, _ := json.Marshal(m)
		return &persist.GraphChange{Kind: persist.ChangeWantAdded, EntityID: m.WalletID.String(), Timestamp: now, Payload: payload}
	case persist.MutationRemoveWant, persist.MutationRemoveCollectionWant:
		payload, _ := json.Marshal(m)
		return &persist.GraphChange{Kind: persist.ChangeWantRemoved, EntityID: m.WalletID.String(), Timestamp: now, Payload: payload}
	case persist.MutationUpdateRejections:
		payload, _ := json.Marshal(m.Rejections)
		return &persist.GraphChange{Kind: persist.ChangeRejectionsUpdated, EntityID: m.WalletID.String(), Timestamp: now, Payload: payload}
	}
	return nil
}
