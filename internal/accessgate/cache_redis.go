package accessgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "orthoplus/pkg/domain"
)

// RedisCache stores per-tenant active sets as JSON arrays under a
// tenant-scoped key.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(tenantID id.TenantID) string {
	return "gate:active:" + uuid.UUID(tenantID).String()
}

func (c *RedisCache) Get(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("gate cache get: %w", err)
	}

	var keys []id.ModuleKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, false, fmt.Errorf("gate cache decode: %w", err)
	}
	return keys, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tenantID id.TenantID, keys []id.ModuleKey, ttl time.Duration) error {
	if keys == nil {
		// An empty active set is still a valid, cacheable answer.
		keys = []id.ModuleKey{}
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("gate cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(tenantID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("gate cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, tenantID id.TenantID) error {
	if err := c.client.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("gate cache delete: %w", err)
	}
	return nil
}
