package authz

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the closed set of permission identifiers known to the
// system. Permissions are registered once at bootstrap; the gate treats any
// identifier outside this set as a denial rather than an error.
type Registry struct {
	mu    sync.RWMutex
	perms map[Permission]struct{}
}

// NewRegistry creates an empty permission registry.
func NewRegistry() *Registry {
	return &Registry{
		perms: make(map[Permission]struct{}),
	}
}

// Register adds a permission identifier to the registry. Registering an
// already-known permission is a no-op.
func (r *Registry) Register(perms ...Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range perms {
		if p == "" {
			continue
		}
		r.perms[p] = struct{}{}
	}
}

// Exists reports whether the permission identifier has been registered.
func (r *Registry) Exists(p Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.perms[p]
	return ok
}

// All returns every registered permission, sorted for stable output.
func (r *Registry) All() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Permission, 0, len(r.perms))
	for p := range r.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateSeeds checks role seed data against the registered set so a typo in
// a seed fails at startup instead of silently denying access at runtime.
func (r *Registry) ValidateSeeds(seeds map[string][]Permission) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for role, perms := range seeds {
		for _, p := range perms {
			if _, ok := r.perms[p]; !ok {
				return fmt.Errorf("role %q references unregistered permission %q", role, p)
			}
		}
	}
	return nil
}
