package members

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/observability"
)

// RoleCache caches membership roles in Redis to keep the permission
// check path off the database. Entries expire after a short TTL and
// are invalidated on every membership mutation, so staleness is
// bounded even if an invalidation is lost.
type RoleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewRoleCache creates a role cache with the given TTL
func NewRoleCache(client *redis.Client, ttl time.Duration, logger *observability.Logger) *RoleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RoleCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

type cachedRole struct {
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

func cacheKey(tenantID, principalID int64) string {
	return fmt.Sprintf("boardroom:membership:%d:%d", tenantID, principalID)
}

// Get returns the cached role for a membership, if present
func (c *RoleCache) Get(ctx context.Context, tenantID, principalID int64) (authz.Role, bool, bool) {
	data, err := c.client.Get(ctx, cacheKey(tenantID, principalID)).Bytes()
	if err == redis.Nil {
		return "", false, false
	}
	if err != nil {
		c.logger.WithError(err).Debug("role cache read failed")
		return "", false, false
	}

	var cached cachedRole
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.WithError(err).Debug("role cache entry corrupt, ignoring")
		return "", false, false
	}

	return authz.Role(cached.Role), cached.Active, true
}

// Set caches a membership's role and active flag
func (c *RoleCache) Set(ctx context.Context, tenantID, principalID int64, role authz.Role, active bool) {
	data, err := json.Marshal(cachedRole{Role: string(role), Active: active})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(tenantID, principalID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("role cache write failed")
	}
}

// Invalidate drops the cached role for a membership
func (c *RoleCache) Invalidate(ctx context.Context, tenantID, principalID int64) {
	if err := c.client.Del(ctx, cacheKey(tenantID, principalID)).Err(); err != nil {
		c.logger.WithError(err).Warn("role cache invalidation failed")
	}
}
