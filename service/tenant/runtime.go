package tenant

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/barterlabs/go-barter/service/discovery"
	"github.com/barterlabs/go-barter/service/graph"
	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
	sentryutil "github.com/barterlabs/go-barter/service/sentry"
	"github.com/barterlabs/go-barter/service/transform"
	"github.com/barterlabs/go-barter/service/webhook"
	"github.com/barterlabs/go-barter/util/retry"
)

// mutationQueueCap bounds the per-tenant FIFO; overflow rejects with
// ErrTenantBusy rather than blocking the caller.
const mutationQueueCap = 10000

var saveRetry = retry.Retry{Base: 1, Cap: 4, Tries: 3}

type queuedMutation struct {
	mutation persist.Mutation
	result   chan error
}

// Runtime owns one tenant's graph, registry, orchestrator, and webhook
// dispatcher. All mutations flow through a single FIFO lane; reads run
// concurrently against snapshots.
type Runtime struct {
	id    persist.TenantID
	store persist.Store

	mu     sync.RWMutex
	tenant persist.Tenant
	// view is the latest published graph snapshot; reads (status, counts)
	// serve from it so they never touch the live maps the pipeline mutates.
	view *graph.Snapshot

	graph        *graph.Store
	registry     *registry.Registry
	orchestrator *discovery.Orchestrator
	dispatcher   *webhook.Dispatcher

	queue   chan queuedMutation
	pending int32
	// degraded is set while snapshot persistence is failing; loop events are
	// never dropped, only the persisted snapshot lags.
	degraded atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newRuntime(tenant persist.Tenant, store persist.Store, cache *transform.Cache, transport webhook.Transport, g *graph.Store, reg *registry.Registry) *Runtime {
	r := &Runtime{
		id:       tenant.ID,
		store:    store,
		tenant:   tenant,
		view:     g.Snapshot(),
		graph:    g,
		registry: reg,
		queue:    make(chan queuedMutation, mutationQueueCap),
		done:     make(chan struct{}),
	}

	r.dispatcher = webhook.NewDispatcher(
		webhook.TenantRef{ID: tenant.ID.String(), Name: tenant.Name},
		webhook.Config{URL: tenant.Config.Webhook.URL, Secret: tenant.Config.Webhook.Secret, Enabled: tenant.Config.Webhook.Enabled},
		transport,
	)
	r.orchestrator = discovery.New(tenant.ID, g, reg, cache, r.dispatcher, r.Config)

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"tenant": tenant.ID})
	r.cancel = cancel
	go r.run(ctx)
	return r
}

// ID returns the tenant id.
func (r *Runtime) ID() persist.TenantID { return r.id }

// Tenant returns a copy of the tenant record.
func (r *Runtime) Tenant() persist.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenant
}

// Config returns the tenant's current configuration.
func (r *Runtime) Config() persist.TenantConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenant.Config
}

// UpdateConfig replaces the tenant's configuration and reconfigures the
// dispatcher.
func (r *Runtime) UpdateConfig(cfg persist.TenantConfig) {
	r.mu.Lock()
	r.tenant.Config = cfg
	r.tenant.LastUpdated = time.Now()
	r.mu.Unlock()

	r.dispatcher.UpdateConfig(webhook.Config{
		URL:     cfg.Webhook.URL,
		Secret:  cfg.Webhook.Secret,
		Enabled: cfg.Webhook.Enabled,
	})
}

// Submit enqueues a mutation and waits for the pipeline to process it, so
// mutation-level errors (conflicts, unknown ids) surface to the caller.
// Returns ErrTenantBusy when the FIFO is full.
func (r *Runtime) Submit(ctx context.Context, m persist.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	q := queuedMutation{mutation: m, result: make(chan error, 1)}
	select {
	case r.queue <- q:
		atomic.AddInt32(&r.pending, 1)
	default:
		return persist.ErrTenantBusy{ID: r.id}
	}

	select {
	case err := <-q.result:
		return err
	case <-ctx.Done():
		// The mutation still runs; the caller just stopped waiting.
		return ctx.Err()
	}
}

// SubmitAsync enqueues a mutation without waiting for the result.
func (r *Runtime) SubmitAsync(m persist.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	select {
	case r.queue <- queuedMutation{mutation: m}:
		atomic.AddInt32(&r.pending, 1)
		return nil
	default:
		return persist.ErrTenantBusy{ID: r.id}
	}
}

// Pending returns the number of queued mutations.
func (r *Runtime) Pending() int {
	return int(atomic.LoadInt32(&r.pending))
}

// Degraded reports whether snapshot persistence is currently failing.
func (r *Runtime) Degraded() bool { return r.degraded.Load() }

// Registry exposes the tenant's loop registry for queries.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Orchestrator exposes discovery stats and the change log.
func (r *Runtime) Orchestrator() *discovery.Orchestrator { return r.orchestrator }

// Dispatcher exposes the webhook dispatcher for subscriptions and attempt
// inspection.
func (r *Runtime) Dispatcher() *webhook.Dispatcher { return r.dispatcher }

// View returns the latest published graph snapshot. Snapshots are immutable:
// the pipeline copies whatever a later mutation touches.
func (r *Runtime) View() *graph.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

func (r *Runtime) publishView(snap *graph.Snapshot) {
	r.mu.Lock()
	r.view = snap
	r.mu.Unlock()
}

// run is the tenant's single mutation lane.
func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-r.queue:
			err := r.process(ctx, q.mutation)
			atomic.AddInt32(&r.pending, -1)
			if q.result != nil {
				q.result <- err
			}
		}
	}
}

// process runs one mutation through the pipeline with panic isolation: a
// panicking mutation is poisoned and reported, and the lane keeps going.
func (r *Runtime) process(ctx context.Context, m persist.Mutation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal: mutation %s panicked: %v", m.Kind, rec)
			logger.For(ctx).Error(err)
			sentryutil.ReportError(ctx, err)
		}
	}()

	if err := r.orchestrator.Process(ctx, m); err != nil {
		return err
	}

	snap := r.graph.Snapshot()
	r.publishView(snap)
	r.persistSnapshot(ctx, m, snap)
	return nil
}

// persistSnapshot saves the tenant's state through the store with a short
// retry. Failure marks the tenant degraded; the next successful save clears
// it. Loop events are dispatched from memory either way.
func (r *Runtime) persistSnapshot(ctx context.Context, m persist.Mutation, snap *graph.Snapshot) {
	snapshot := r.snapshotForStore(snap)

	err := retry.RetryFunc(ctx, func(ctx context.Context) error {
		return r.store.SaveTenant(ctx, r.id, snapshot)
	}, func(error) bool { return true }, saveRetry)

	if err != nil {
		if !r.degraded.Swap(true) {
			logger.For(ctx).Errorf("store: saving tenant %s failed, marking degraded: %s", r.id, err)
		}
		return
	}
	r.degraded.Store(false)

	if change := latestChange(r.orchestrator, m); change != nil {
		if err := r.store.AppendChange(ctx, r.id, *change); err != nil {
			logger.For(ctx).Warnf("store: appending change for tenant %s failed: %s", r.id, err)
		}
	}
}

func (r *Runtime) snapshotForStore(snap *graph.Snapshot) *persist.TenantSnapshot {
	nfts := make([]persist.NFT, 0, len(snap.NFTs))
	for _, n := range snap.NFTs {
		nfts = append(nfts, n)
	}
	wallets := make([]*persist.Wallet, 0, len(snap.Wallets))
	for _, w := range snap.Wallets {
		wallets = append(wallets, w)
	}

	return &persist.TenantSnapshot{
		Tenant:  r.Tenant(),
		NFTs:    nfts,
		Wallets: wallets,
		Loops:   r.registry.All(),
		Changes: r.orchestrator.ChangeLog(),
	}
}

func latestChange(o *discovery.Orchestrator, m persist.Mutation) *persist.GraphChange {
	if m.Kind == persist.MutationMarkCompleted {
		return nil
	}
	log := o.ChangeLog()
	if len(log) == 0 {
		return nil
	}
	change := log[len(log)-1]
	return &change
}

// Shutdown cancels in-flight work and drains the webhook dispatcher.
func (r *Runtime) Shutdown() {
	r.cancel()
	<-r.done
	r.dispatcher.Drain()
}
