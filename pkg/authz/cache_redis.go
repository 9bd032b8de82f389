package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisGrantKeyPrefix = "warden:grant:"
	redisRoleKeyPrefix  = "warden:grantrole:"
)

// RedisCache is a grant cache shared across instances. Alongside each grant
// it maintains a per-role index set so Invalidate can find every principal
// whose cached grant references the mutated role.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed grant cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// redisGrant is the wire form of CachedGrant; the permission set flattens to
// a list for JSON.
type redisGrant struct {
	PrincipalID  int64        `json:"principal_id"`
	Active       bool         `json:"active"`
	SuperAdmin   bool         `json:"super_admin"`
	Admin        bool         `json:"admin"`
	DepartmentID *int64       `json:"department_id,omitempty"`
	RoleIDs      []int64      `json:"role_ids,omitempty"`
	Perms        []Permission `json:"perms,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Get returns the cached grant for the principal if present.
func (c *RedisCache) Get(ctx context.Context, principalID int64) (*CachedGrant, bool) {
	data, err := c.client.Get(ctx, grantKey(principalID)).Bytes()
	if err != nil {
		return nil, false
	}
	var wire redisGrant
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false
	}
	grant := &CachedGrant{
		PrincipalID:  wire.PrincipalID,
		Active:       wire.Active,
		SuperAdmin:   wire.SuperAdmin,
		Admin:        wire.Admin,
		DepartmentID: wire.DepartmentID,
		RoleIDs:      wire.RoleIDs,
		Perms:        make(map[Permission]struct{}, len(wire.Perms)),
		ExpiresAt:    wire.ExpiresAt,
	}
	for _, p := range wire.Perms {
		grant.Perms[p] = struct{}{}
	}
	return grant, true
}

// Put stores a grant and registers it in the index set of every role it
// references.
func (c *RedisCache) Put(ctx context.Context, principalID int64, grant *CachedGrant) {
	wire := redisGrant{
		PrincipalID:  grant.PrincipalID,
		Active:       grant.Active,
		SuperAdmin:   grant.SuperAdmin,
		Admin:        grant.Admin,
		DepartmentID: grant.DepartmentID,
		RoleIDs:      grant.RoleIDs,
		ExpiresAt:    grant.ExpiresAt,
	}
	for p := range grant.Perms {
		wire.Perms = append(wire.Perms, p)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, grantKey(principalID), data, c.ttl)
	for _, roleID := range grant.RoleIDs {
		key := roleKey(roleID)
		pipe.SAdd(ctx, key, principalID)
		pipe.Expire(ctx, key, c.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

// Invalidate drops the cached grant of every principal holding the role.
func (c *RedisCache) Invalidate(ctx context.Context, roleID int64) error {
	key := roleKey(roleID)
	members, err := c.client.SMembers(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read role index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		keys = append(keys, redisGrantKeyPrefix+member)
	}
	keys = append(keys, key)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate role grants: %w", err)
	}
	return nil
}

// InvalidatePrincipal drops the cached grant for one principal.
func (c *RedisCache) InvalidatePrincipal(ctx context.Context, principalID int64) error {
	return c.client.Del(ctx, grantKey(principalID)).Err()
}

func grantKey(principalID int64) string {
	return fmt.Sprintf("%s%d", redisGrantKeyPrefix, principalID)
}

func roleKey(roleID int64) string {
	return fmt.Sprintf("%s%d", redisRoleKeyPrefix, roleID)
}
