package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/barterlabs/go-barter/env"
	"github.com/barterlabs/go-barter/service/persist"
)

const (
	tenantKeyPrefix  = "barter:tenant:"
	changesKeyPrefix = "barter:changes:"
	tenantIndexKey   = "barter:tenants"

	// changeLogCap bounds the persisted change log per tenant.
	changeLogCap = 10000
)

// Store is a redis-backed persist.Store. Snapshots are stored as JSON blobs
// keyed per tenant; change logs as capped lists.
type Store struct {
	client *redis.Client
}

// NewStore connects to redis using REDIS_URL / REDIS_PASS and pings before
// returning.
func NewStore(ctx context.Context) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     env.GetString(ctx, "REDIS_URL"),
		Password: env.GetString(ctx, "REDIS_PASS"),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing client; used by tests.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) LoadTenant(ctx context.Context, id persist.TenantID) (*persist.TenantSnapshot, error) {
	bs, err := s.client.Get(ctx, tenantKeyPrefix+id.String()).Bytes()
	if err == redis.Nil {
		return nil, persist.ErrTenantNotFound{ID: id}
	}
	if err != nil {
		return nil, err
	}

	var snap persist.TenantSnapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveTenant(ctx context.Context, id persist.TenantID, snapshot *persist.TenantSnapshot) error {
	bs, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tenantKeyPrefix+id.String(), bs, 0)
	pipe.SAdd(ctx, tenantIndexKey, id.String())
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) AppendChange(ctx context.Context, id persist.TenantID, change persist.GraphChange) error {
	bs, err := json.Marshal(change)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, changesKeyPrefix+id.String(), bs)
	pipe.LTrim(ctx, changesKeyPrefix+id.String(), -changeLogCap, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) ListTenants(ctx context.Context) ([]persist.TenantID, error) {
	members, err := s.client.SMembers(ctx, tenantIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]persist.TenantID, len(members))
	for i, m := range members {
		out[i] = persist.TenantID(m)
	}
	return out, nil
}

func (s *Store) DeleteTenant(ctx context.Context, id persist.TenantID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tenantKeyPrefix+id.String(), changesKeyPrefix+id.String())
	pipe.SRem(ctx, tenantIndexKey, id.String())
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
