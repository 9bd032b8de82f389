package authz

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedGrant is a principal's resolved authorization state: active flag,
// elevated roles, held role IDs, and the flattened permission set.
type CachedGrant struct {
	PrincipalID  int64
	Active       bool
	SuperAdmin   bool
	Admin        bool
	DepartmentID *int64
	RoleIDs      []int64
	Perms        map[Permission]struct{}
	ExpiresAt    time.Time
}

func (g *CachedGrant) holdsRole(roleID int64) bool {
	for _, id := range g.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Cache stores resolved grants keyed by principal. Implementations must make
// Invalidate drop every entry that references the role, synchronously;
// a stale grant must never outlive a role mutation by more than the TTL.
type Cache interface {
	Get(ctx context.Context, principalID int64) (*CachedGrant, bool)
	Put(ctx context.Context, principalID int64, grant *CachedGrant)
	Invalidate(ctx context.Context, roleID int64) error
	InvalidatePrincipal(ctx context.Context, principalID int64) error
}

// LRUCache is an in-process grant cache backed by a fixed-size LRU.
type LRUCache struct {
	entries *lru.Cache[int64, *CachedGrant]
}

// NewLRUCache creates an in-process cache holding at most size grants.
func NewLRUCache(size int) (*LRUCache, error) {
	entries, err := lru.New[int64, *CachedGrant](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

// Get returns the cached grant for the principal if present and unexpired.
func (c *LRUCache) Get(_ context.Context, principalID int64) (*CachedGrant, bool) {
	grant, ok := c.entries.Get(principalID)
	if !ok {
		return nil, false
	}
	if time.Now().After(grant.ExpiresAt) {
		c.entries.Remove(principalID)
		return nil, false
	}
	return grant, true
}

// Put stores a grant for the principal.
func (c *LRUCache) Put(_ context.Context, principalID int64, grant *CachedGrant) {
	c.entries.Add(principalID, grant)
}

// Invalidate removes every cached grant that references the role.
func (c *LRUCache) Invalidate(_ context.Context, roleID int64) error {
	for _, key := range c.entries.Keys() {
		if grant, ok := c.entries.Peek(key); ok && grant.holdsRole(roleID) {
			c.entries.Remove(key)
		}
	}
	return nil
}

// InvalidatePrincipal removes the cached grant for one principal.
func (c *LRUCache) InvalidatePrincipal(_ context.Context, principalID int64) error {
	c.entries.Remove(principalID)
	return nil
}
