package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/workflow-service/internal/domain"
)

type fakePermissionSource struct {
	mu     sync.Mutex
	grants map[string][]domain.Capability

	roleLoads int32
	allLoads  int32
	failAll   bool
	failRole  bool
	block     chan struct{}
}

func (f *fakePermissionSource) CapabilitiesByRole(_ context.Context, roleID string) ([]domain.Capability, error) {
	atomic.AddInt32(&f.roleLoads, 1)
	// Snapshot before blocking: a blocked call models a result that has
	// already been read but is still in flight back to the cache.
	f.mu.Lock()
	capabilities := f.grants[roleID]
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.failRole {
		return nil, errors.New("permission store unavailable")
	}
	return capabilities, nil
}

func (f *fakePermissionSource) AllCapabilities(_ context.Context) (map[string][]domain.Capability, error) {
	atomic.AddInt32(&f.allLoads, 1)
	if f.failAll {
		return nil, errors.New("permission store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]domain.Capability, len(f.grants))
	for role, capabilities := range f.grants {
		out[role] = capabilities
	}
	return out, nil
}

func grantSource() *fakePermissionSource {
	return &fakePermissionSource{grants: map[string][]domain.Capability{
		"role-agent": {
			{Action: "transition", Subject: "ticket"},
			{Action: "read", Subject: "ticket"},
		},
		"role-admin": {
			{Action: "manage", Subject: "permission"},
		},
	}}
}

func TestPermissionsLazyLoadsOnMiss(t *testing.T) {
	source := grantSource()
	cache := NewPermissionCache(source)

	capabilities, err := cache.Permissions(context.Background(), "role-agent")
	require.NoError(t, err)
	assert.Len(t, capabilities, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.roleLoads))

	_, err = cache.Permissions(context.Background(), "role-agent")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.roleLoads), "second read must be served from cache")
}

func TestAllowed(t *testing.T) {
	cache := NewPermissionCache(grantSource())

	ok, err := cache.Allowed(context.Background(), "role-agent", "transition", "ticket")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Allowed(context.Background(), "role-agent", "manage", "permission")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissionsConcurrentMissesShareOneLoad(t *testing.T) {
	source := grantSource()
	source.block = make(chan struct{})
	cache := NewPermissionCache(source)

	const readers = 8
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			capabilities, err := cache.Permissions(context.Background(), "role-agent")
			assert.NoError(t, err)
			assert.Len(t, capabilities, 2)
		}()
	}
	close(source.block)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&source.roleLoads), int32(2), "concurrent misses must dedupe the backing load")
}

func TestRefreshAllPrimesCacheWithoutLazyLoads(t *testing.T) {
	source := grantSource()
	cache := NewPermissionCache(source)

	require.NoError(t, cache.RefreshAll(context.Background()))
	assert.Equal(t, 2, cache.Status().RoleCount)
	assert.False(t, cache.Status().LastRefresh.IsZero())

	_, err := cache.Permissions(context.Background(), "role-agent")
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&source.roleLoads), "a refreshed cache must not hit the source")
}

func TestRefreshAllFailureLeavesCacheUntouched(t *testing.T) {
	source := grantSource()
	cache := NewPermissionCache(source)
	require.NoError(t, cache.RefreshAll(context.Background()))

	source.failAll = true
	err := cache.RefreshAll(context.Background())
	require.Error(t, err)

	ok, err := cache.Allowed(context.Background(), "role-agent", "transition", "ticket")
	require.NoError(t, err)
	assert.True(t, ok, "failed refresh must keep serving the previous contents")
}

func TestInvalidateForcesReload(t *testing.T) {
	source := grantSource()
	cache := NewPermissionCache(source)

	_, err := cache.Permissions(context.Background(), "role-agent")
	require.NoError(t, err)

	source.mu.Lock()
	source.grants["role-agent"] = append(source.grants["role-agent"], domain.Capability{Action: "close", Subject: "ticket"})
	source.mu.Unlock()

	cache.Invalidate("role-agent")

	capabilities, err := cache.Permissions(context.Background(), "role-agent")
	require.NoError(t, err)
	assert.Len(t, capabilities, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.roleLoads))
}

func TestInvalidateDiscardsInFlightLoad(t *testing.T) {
	source := grantSource()
	source.block = make(chan struct{})
	cache := NewPermissionCache(source)

	type result struct {
		capabilities []domain.Capability
		err          error
	}
	done := make(chan result, 1)
	go func() {
		capabilities, err := cache.Permissions(context.Background(), "role-agent")
		done <- result{capabilities: capabilities, err: err}
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&source.roleLoads) == 1
	}, time.Second, time.Millisecond, "the lazy load must be in flight")

	// Revoke the transition grant and invalidate while the load still holds
	// the pre-revocation snapshot.
	source.mu.Lock()
	source.grants["role-agent"] = []domain.Capability{{Action: "read", Subject: "ticket"}}
	source.mu.Unlock()
	cache.Invalidate("role-agent")
	close(source.block)

	first := <-done
	require.NoError(t, first.err)
	assert.Len(t, first.capabilities, 1, "the discarded load must be retried against fresh grants")

	ok, err := cache.Allowed(context.Background(), "role-agent", "transition", "ticket")
	require.NoError(t, err)
	assert.False(t, ok, "an invalidated role must never be served grants loaded before the invalidation")
}

func TestInvalidateUncachedRoleIsNoOp(t *testing.T) {
	cache := NewPermissionCache(grantSource())
	cache.Invalidate("role-unknown")
	assert.Equal(t, 0, cache.Status().RoleCount)
}

func TestPermissionsLoadFailureIsNotCached(t *testing.T) {
	source := grantSource()
	source.failRole = true
	cache := NewPermissionCache(source)

	_, err := cache.Permissions(context.Background(), "role-agent")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Status().RoleCount)

	source.failRole = false
	capabilities, err := cache.Permissions(context.Background(), "role-agent")
	require.NoError(t, err)
	assert.Len(t, capabilities, 2)
}
