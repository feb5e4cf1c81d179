// Package cache provides a short-TTL read cache for the tenant directory.
// The context resolver hits it on every request; misses and failures fall
// through to the database, so the cache can never take the service down.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/capliquify/capliquify-backend/internal/tenancy/domain"
	"github.com/capliquify/capliquify-backend/pkg/logger"
)

const keyPrefix = "tenant:org:"

// cacheEntry is the storage form of a tenant record. The API payload hides
// deleted_at behind json:"-", so the soft-delete marker gets its own field
// here; otherwise an archived tenant would come back from the cache looking
// live.
type cacheEntry struct {
	Tenant    *domain.Tenant `json:"tenant"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

func encodeTenant(t *domain.Tenant) ([]byte, error) {
	return json.Marshal(cacheEntry{Tenant: t, DeletedAt: t.DeletedAt})
}

func decodeTenant(data []byte) (*domain.Tenant, error) {
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Tenant == nil {
		return nil, fmt.Errorf("empty tenant cache entry")
	}
	e.Tenant.DeletedAt = e.DeletedAt
	return e.Tenant, nil
}

// TenantCache caches tenant records by external organization ID
type TenantCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// New creates a tenant cache. A nil client disables caching; every Get
// misses and every Set is a no-op.
func New(client *redis.Client, ttl time.Duration, log *logger.Logger) *TenantCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TenantCache{
		client: client,
		ttl:    ttl,
		logger: log.WithComponent("tenant-cache"),
	}
}

// Get returns the cached tenant for an external org ID, or (nil, false) on
// miss or any cache failure.
func (c *TenantCache) Get(ctx context.Context, externalOrgID string) (*domain.Tenant, bool) {
	if c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, keyPrefix+externalOrgID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("tenant cache read failed")
		return nil, false
	}

	t, err := decodeTenant(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("tenant cache entry corrupt")
		return nil, false
	}
	return t, true
}

// Set stores a tenant record. Failures are logged and swallowed.
func (c *TenantCache) Set(ctx context.Context, t *domain.Tenant) {
	if c.client == nil || t == nil {
		return
	}

	data, err := encodeTenant(t)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to marshal tenant for cache")
		return
	}

	if err := c.client.Set(ctx, keyPrefix+t.ExternalOrgID, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("tenant cache write failed")
	}
}

// Invalidate drops the cached entry for an external org ID. Called after
// every directory write so readers never serve stale lifecycle state past
// the TTL.
func (c *TenantCache) Invalidate(ctx context.Context, externalOrgID string) {
	if c.client == nil {
		return
	}

	if err := c.client.Del(ctx, keyPrefix+externalOrgID).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("tenant cache invalidation failed")
	}
}
