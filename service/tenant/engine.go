package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/barterlabs/go-barter/service/graph"
	"github.com/barterlabs/go-barter/service/logger"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
	"github.com/barterlabs/go-barter/service/transform"
	"github.com/barterlabs/go-barter/service/webhook"
	"github.com/barterlabs/go-barter/util"
	"github.com/barterlabs/go-barter/validate"
)

// Status is the per-tenant view returned by the status operation.
type Status struct {
	TenantID         persist.TenantID `json:"tenantId"`
	NFTCount         int              `json:"nftCount"`
	WalletCount      int              `json:"walletCount"`
	ActiveLoopCount  int              `json:"activeLoopCount"`
	PendingMutations int              `json:"pendingMutations"`
	LastUpdated      time.Time        `json:"lastUpdated"`
	Truncated        bool             `json:"truncated"`
	Degraded         bool             `json:"degraded"`
}

// Engine owns every tenant runtime. Tenants run independently: an error or
// panic inside one tenant never touches another. Construction is explicit;
// tests build fresh engines with their own store and transport.
type Engine struct {
	store     persist.Store
	transport webhook.Transport
	cache     *transform.Cache
	validate  *validator.Validate

	mu       sync.RWMutex
	runtimes map[persist.TenantID]*Runtime
}

// NewEngine wires an engine around a store and a webhook transport.
func NewEngine(store persist.Store, transport webhook.Transport) *Engine {
	v := validator.New()
	validate.RegisterCustomValidators(v)

	return &Engine{
		store:     store,
		transport: transport,
		cache:     transform.NewCache(transform.DefaultCacheConfig()),
		validate:  v,
		runtimes:  map[persist.TenantID]*Runtime{},
	}
}

// CreateTenant registers a new tenant with the given display name and
// config, persists it, and starts its runtime.
func (e *Engine) CreateTenant(ctx context.Context, name string, cfg persist.TenantConfig) (persist.Tenant, error) {
	if err := e.validate.Struct(cfg); err != nil {
		return persist.Tenant{}, persist.ErrInvalidMutation{Reason: "invalid tenant config: " + err.Error()}
	}

	now := time.Now()
	tenant := persist.Tenant{
		ID:          persist.TenantID(persist.GenerateID()),
		Name:        validate.Sanitize(name),
		Config:      cfg,
		CreatedAt:   now,
		LastUpdated: now,
	}

	r := newRuntime(tenant, e.store, e.cache, e.transport, graph.NewStore(), registry.New())

	e.mu.Lock()
	e.runtimes[tenant.ID] = r
	e.mu.Unlock()

	if err := e.store.SaveTenant(ctx, tenant.ID, &persist.TenantSnapshot{Tenant: tenant}); err != nil {
		logger.For(ctx).Errorf("store: saving new tenant %s failed: %s", tenant.ID, err)
	}

	logger.For(ctx).Infof("created tenant %s (%s)", tenant.ID, name)
	return tenant, nil
}

// LoadFromStore restores every persisted tenant and starts its runtime.
func (e *Engine) LoadFromStore(ctx context.Context) error {
	ids, err := e.store.ListTenants(ctx)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	restored := map[persist.TenantID]*Runtime{}

	eg, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			snap, err := e.store.LoadTenant(ctx, id)
			if err != nil {
				return err
			}
			g := graph.Restore(snap.NFTs, snap.Wallets)
			reg := registry.Restore(snap.Loops)
			r := newRuntime(snap.Tenant, e.store, e.cache, e.transport, g, reg)
			mu.Lock()
			restored[id] = r
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	for id, r := range restored {
		e.runtimes[id] = r
	}
	e.mu.Unlock()

	logger.For(ctx).Infof("restored %d tenants from store", len(restored))
	return nil
}

// Runtime resolves a tenant runtime.
func (e *Engine) Runtime(id persist.TenantID) (*Runtime, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runtimes[id]
	if !ok {
		return nil, persist.ErrTenantNotFound{ID: id}
	}
	return r, nil
}

// Submit routes a mutation into the tenant's serial pipeline and returns
// the pipeline's verdict.
func (e *Engine) Submit(ctx context.Context, id persist.TenantID, m persist.Mutation) error {
	r, err := e.Runtime(id)
	if err != nil {
		return err
	}
	return r.Submit(ctx, m)
}

// QueryLoops returns the tenant's active loops matching the options.
func (e *Engine) QueryLoops(ctx context.Context, id persist.TenantID, opts registry.QueryOptions) ([]persist.TradeLoop, error) {
	r, err := e.Runtime(id)
	if err != nil {
		return nil, err
	}
	return r.Registry().Query(opts), nil
}

// Status returns the tenant's current status snapshot.
func (e *Engine) Status(ctx context.Context, id persist.TenantID) (Status, error) {
	r, err := e.Runtime(id)
	if err != nil {
		return Status{}, err
	}

	stats := r.Orchestrator().Stats()
	view := r.View()
	return Status{
		TenantID:         id,
		NFTCount:         len(view.NFTs),
		WalletCount:      len(view.Wallets),
		ActiveLoopCount:  r.Registry().Count(),
		PendingMutations: r.Pending(),
		LastUpdated:      stats.LastRunAt,
		Truncated:        stats.LastTruncated,
		Degraded:         r.Degraded(),
	}, nil
}

// UpdateTenantConfig validates and applies a new config to a tenant.
func (e *Engine) UpdateTenantConfig(ctx context.Context, id persist.TenantID, cfg persist.TenantConfig) error {
	if err := e.validate.Struct(cfg); err != nil {
		return persist.ErrInvalidMutation{Reason: "invalid tenant config: " + err.Error()}
	}
	r, err := e.Runtime(id)
	if err != nil {
		return err
	}
	r.UpdateConfig(cfg)
	return nil
}

// DeleteTenant stops a tenant's runtime and removes its persisted state.
func (e *Engine) DeleteTenant(ctx context.Context, id persist.TenantID) error {
	e.mu.Lock()
	r, ok := e.runtimes[id]
	if ok {
		delete(e.runtimes, id)
	}
	e.mu.Unlock()
	if !ok {
		return persist.ErrTenantNotFound{ID: id}
	}

	r.Shutdown()
	return e.store.DeleteTenant(ctx, id)
}

// TenantIDs lists the running tenants.
func (e *Engine) TenantIDs() []persist.TenantID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return util.MapKeys(e.runtimes)
}

// Shutdown stops every runtime, cancelling in-flight enumeration and
// draining dispatchers.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	runtimes := make([]*Runtime, 0, len(e.runtimes))
	for _, r := range e.runtimes {
		runtimes = append(runtimes, r)
	}
	e.runtimes = map[persist.TenantID]*Runtime{}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range runtimes {
		wg.Add(1)
		go func(r *Runtime) {
			defer wg.Done()
			r.Shutdown()
		}(r)
	}
	wg.Wait()
	logger.For(ctx).Info("engine shut down")
}
