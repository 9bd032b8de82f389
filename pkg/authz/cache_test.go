package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrant(principalID int64, roleIDs ...int64) *CachedGrant {
	return &CachedGrant{
		PrincipalID: principalID,
		Active:      true,
		RoleIDs:     roleIDs,
		Perms:       map[Permission]struct{}{Perm("users", "view"): {}},
		ExpiresAt:   time.Now().Add(time.Minute),
	}
}

func TestLRUCache_PutGet(t *testing.T) {
	cache, err := NewLRUCache(4)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Put(ctx, 1, testGrant(1, 10))

	grant, ok := cache.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), grant.PrincipalID)

	_, ok = cache.Get(ctx, 2)
	assert.False(t, ok)
}

func TestLRUCache_ExpiredEntryEvicted(t *testing.T) {
	cache, err := NewLRUCache(4)
	require.NoError(t, err)
	ctx := context.Background()

	grant := testGrant(1, 10)
	grant.ExpiresAt = time.Now().Add(-time.Second)
	cache.Put(ctx, 1, grant)

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
}

func TestLRUCache_InvalidateByRole(t *testing.T) {
	cache, err := NewLRUCache(4)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Put(ctx, 1, testGrant(1, 10))
	cache.Put(ctx, 2, testGrant(2, 10, 11))
	cache.Put(ctx, 3, testGrant(3, 12))

	require.NoError(t, cache.Invalidate(ctx, 10))

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 2)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 3)
	assert.True(t, ok, "grant without the role must survive")
}

func TestLRUCache_InvalidatePrincipal(t *testing.T) {
	cache, err := NewLRUCache(4)
	require.NoError(t, err)
	ctx := context.Background()

	cache.Put(ctx, 1, testGrant(1, 10))
	cache.Put(ctx, 2, testGrant(2, 10))

	require.NoError(t, cache.InvalidatePrincipal(ctx, 1))

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 2)
	assert.True(t, ok)
}
