package persist

import (
	"context"
	"sort"
	"sync"
)

// TenantSnapshot is the persisted shape of a tenant: its record, entities,
// active loops, and the tail of its change log.
type TenantSnapshot struct {
	Tenant  Tenant        `json:"tenant"`
	NFTs    []NFT         `json:"nfts"`
	Wallets []*Wallet     `json:"wallets"`
	Loops   []TradeLoop   `json:"loops"`
	Changes []GraphChange `json:"changes"`
}

// Store abstracts tenant persistence. The engine treats failures as
// recoverable: a tenant whose save fails is marked degraded and retried, and
// no loop events are dropped while the store is unavailable.
type Store interface {
	LoadTenant(ctx context.Context, id TenantID) (*TenantSnapshot, error)
	SaveTenant(ctx context.Context, id TenantID, snapshot *TenantSnapshot) error
	AppendChange(ctx context.Context, id TenantID, change GraphChange) error
	ListTenants(ctx context.Context) ([]TenantID, error)
	DeleteTenant(ctx context.Context, id TenantID) error
}

// MemoryStore is the in-process Store used by tests and single-node deploys.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[TenantID]*TenantSnapshot
	changes   map[TenantID][]GraphChange
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[TenantID]*TenantSnapshot{},
		changes:   map[TenantID][]GraphChange{},
	}
}

func (s *MemoryStore) LoadTenant(ctx context.Context, id TenantID) (*TenantSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, ErrTenantNotFound{ID: id}
	}
	return snap, nil
}

func (s *MemoryStore) SaveTenant(ctx context.Context, id TenantID, snapshot *TenantSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = snapshot
	return nil
}

func (s *MemoryStore) AppendChange(ctx context.Context, id TenantID, change GraphChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[id] = append(s.changes[id], change)
	return nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TenantID, 0, len(s.snapshots))
	for id := range s.snapshots {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) DeleteTenant(ctx context.Context, id TenantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	delete(s.changes, id)
	return nil
}
