package authz

import (
	"context"
	"fmt"
	"time"
)

// PermissionSource is the read surface the gate evaluates against. *Store
// satisfies it; tests substitute stubs.
type PermissionSource interface {
	GetPrincipal(ctx context.Context, id int64) (*Principal, error)
	RolesOf(ctx context.Context, principalID int64) ([]Role, error)
	PermissionsOf(ctx context.Context, principalID int64) ([]Permission, error)
}

// Gate answers "can principal P perform permission X, optionally on resource
// R". It is a pure function over current store state: it never mutates
// anything and always terminates with a boolean. Unknown permissions and
// lookup failures evaluate to false: policy absence fails closed.
type Gate struct {
	source   PermissionSource
	registry *Registry
	cache    Cache
	cacheTTL time.Duration
	observe  func(allowed bool)
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithCache puts a cache in front of the permission source. The cache is a
// performance optimization only; mutations must call Invalidate on it.
func WithCache(c Cache, ttl time.Duration) GateOption {
	return func(g *Gate) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithDecisionObserver registers a callback invoked with every decision,
// used to feed metrics.
func WithDecisionObserver(fn func(allowed bool)) GateOption {
	return func(g *Gate) {
		g.observe = fn
	}
}

// NewGate creates an authorization gate.
func NewGate(source PermissionSource, registry *Registry, opts ...GateOption) *Gate {
	g := &Gate{source: source, registry: registry}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Can reports whether the principal may perform the permission.
func (g *Gate) Can(ctx context.Context, principalID int64, perm Permission) bool {
	allowed := g.decide(ctx, principalID, perm, Resource{})
	if g.observe != nil {
		g.observe(allowed)
	}
	return allowed
}

// Require is the error-returning form of Can, for callers that thread
// authorization through error paths. A denial is ErrDenied wrapped with
// the permission name.
func (g *Gate) Require(ctx context.Context, principalID int64, perm Permission) error {
	if g.Can(ctx, principalID, perm) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDenied, perm)
}

// CanResource is Can with an additional scope check against a concrete
// resource. A principal passes the scope check by belonging to the
// resource's department, owning the resource, or holding an elevated role
// (admin or super-admin).
func (g *Gate) CanResource(ctx context.Context, principalID int64, perm Permission, res Resource) bool {
	allowed := g.decide(ctx, principalID, perm, res)
	if g.observe != nil {
		g.observe(allowed)
	}
	return allowed
}

func (g *Gate) decide(ctx context.Context, principalID int64, perm Permission, res Resource) bool {
	grant := g.grantFor(ctx, principalID)
	if grant == nil || !grant.Active {
		return false
	}
	if grant.SuperAdmin {
		return true
	}
	if g.registry != nil && !g.registry.Exists(perm) {
		return false
	}
	if _, ok := grant.Perms[perm]; !ok {
		return false
	}
	if !res.Scoped() {
		return true
	}
	return g.scopeMatches(grant, res)
}

func (g *Gate) scopeMatches(grant *CachedGrant, res Resource) bool {
	if grant.Admin {
		return true
	}
	if res.OwnerID != nil && *res.OwnerID == grant.PrincipalID {
		return true
	}
	if res.DepartmentID != nil && grant.DepartmentID != nil && *res.DepartmentID == *grant.DepartmentID {
		return true
	}
	return false
}

// grantFor loads the principal's resolved grant, via the cache when one is
// configured. Any lookup error yields nil, which the caller treats as a
// denial.
func (g *Gate) grantFor(ctx context.Context, principalID int64) *CachedGrant {
	if g.cache != nil {
		if grant, ok := g.cache.Get(ctx, principalID); ok {
			return grant
		}
	}

	principal, err := g.source.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil
	}
	roles, err := g.source.RolesOf(ctx, principalID)
	if err != nil {
		return nil
	}
	perms, err := g.source.PermissionsOf(ctx, principalID)
	if err != nil {
		return nil
	}

	grant := &CachedGrant{
		PrincipalID:  principalID,
		Active:       principal.Active,
		DepartmentID: principal.DepartmentID,
		Perms:        make(map[Permission]struct{}, len(perms)),
		ExpiresAt:    time.Now().Add(g.cacheTTL),
	}
	for _, role := range roles {
		if !role.Active {
			continue
		}
		grant.RoleIDs = append(grant.RoleIDs, role.ID)
		switch role.Name {
		case RoleSuperAdmin:
			grant.SuperAdmin = true
		case RoleAdmin:
			grant.Admin = true
		}
	}
	for _, p := range perms {
		grant.Perms[p] = struct{}{}
	}

	if g.cache != nil && g.cacheTTL > 0 {
		g.cache.Put(ctx, principalID, grant)
	}
	return grant
}
