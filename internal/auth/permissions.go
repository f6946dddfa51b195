package auth

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// PermissionSource loads active role-permission grants from storage.
type PermissionSource interface {
	// CapabilitiesByRole returns the active capabilities granted to one role.
	CapabilitiesByRole(ctx context.Context, roleID string) ([]domain.Capability, error)
	// AllCapabilities returns every role's active capabilities.
	AllCapabilities(ctx context.Context) (map[string][]domain.Capability, error)
}

// CacheStatus is introspection data for the permission cache.
type CacheStatus struct {
	RoleCount   int
	LastRefresh time.Time
}

type capabilitySet map[domain.Capability]struct{}

// PermissionCache is the process-wide role-to-capabilities cache. Reads are
// lazy-loading (read-through); writers to role-permission links must call
// Invalidate for the affected role as part of the same logical operation.
type PermissionCache struct {
	source PermissionSource

	mu    sync.RWMutex
	roles map[string]capabilitySet
	// inflight dedupes concurrent misses; generations invalidate loads that
	// were already in flight when a role's slot was dropped, so a load
	// started before a revocation can never repopulate the slot.
	inflight    map[string]chan struct{}
	generations map[string]uint64
	lastRefresh time.Time
}

// NewPermissionCache creates an empty cache backed by source.
func NewPermissionCache(source PermissionSource) *PermissionCache {
	return &PermissionCache{
		source:      source,
		roles:       make(map[string]capabilitySet),
		inflight:    make(map[string]chan struct{}),
		generations: make(map[string]uint64),
	}
}

// Permissions returns the cached capabilities for roleID, loading them from
// the source on a miss. Concurrent misses for the same role wait on a single
// backing load.
func (c *PermissionCache) Permissions(ctx context.Context, roleID string) ([]domain.Capability, error) {
	for {
		c.mu.RLock()
		set, ok := c.roles[roleID]
		c.mu.RUnlock()
		if ok {
			return setToSlice(set), nil
		}

		c.mu.Lock()
		if set, ok := c.roles[roleID]; ok {
			c.mu.Unlock()
			return setToSlice(set), nil
		}
		wait, loading := c.inflight[roleID]
		if !loading {
			done := make(chan struct{})
			c.inflight[roleID] = done
			generation := c.generations[roleID]
			c.mu.Unlock()

			capabilities, err := c.source.CapabilitiesByRole(ctx, roleID)

			c.mu.Lock()
			delete(c.inflight, roleID)
			close(done)
			if err != nil {
				c.mu.Unlock()
				return nil, apperrors.MapError(err)
			}
			if generation != c.generations[roleID] {
				// The slot was invalidated while this load was in flight;
				// the result may predate the revocation. Discard and reload.
				c.mu.Unlock()
				continue
			}
			c.roles[roleID] = sliceToSet(capabilities)
			c.mu.Unlock()
			return capabilities, nil
		}
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, apperrors.MapError(ctx.Err())
		}
	}
}

// Allowed reports whether roleID holds the (action, subject) capability.
func (c *PermissionCache) Allowed(ctx context.Context, roleID, action, subject string) (bool, error) {
	capabilities, err := c.Permissions(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, capability := range capabilities {
		if capability.Action == action && capability.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

// RefreshAll replaces the whole cache with a fresh load. The swap is
// all-or-nothing: a failed load leaves the current contents untouched.
func (c *PermissionCache) RefreshAll(ctx context.Context) error {
	loaded, err := c.source.AllCapabilities(ctx)
	if err != nil {
		return apperrors.MapError(err)
	}
	fresh := make(map[string]capabilitySet, len(loaded))
	for roleID, capabilities := range loaded {
		fresh[roleID] = sliceToSet(capabilities)
	}

	c.mu.Lock()
	c.roles = fresh
	// Lazy loads already in flight predate this refresh; their results must
	// not overwrite the fresh slots.
	for roleID := range c.inflight {
		c.generations[roleID]++
	}
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

// Invalidate drops one role's slot; the next Permissions call reloads it.
// Invalidating an uncached role is a no-op.
func (c *PermissionCache) Invalidate(roleID string) {
	c.mu.Lock()
	delete(c.roles, roleID)
	c.generations[roleID]++
	c.mu.Unlock()
}

// Status returns introspection data without side effects.
func (c *PermissionCache) Status() CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStatus{
		RoleCount:   len(c.roles),
		LastRefresh: c.lastRefresh,
	}
}

func sliceToSet(capabilities []domain.Capability) capabilitySet {
	set := make(capabilitySet, len(capabilities))
	for _, capability := range capabilities {
		set[capability] = struct{}{}
	}
	return set
}

func setToSlice(set capabilitySet) []domain.Capability {
	capabilities := make([]domain.Capability, 0, len(set))
	for capability := range set {
		capabilities = append(capabilities, capability)
	}
	return capabilities
}
