package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func clientDefaults() []DefaultRole {
	return []DefaultRole{
		{
			Name:            UnauthorizedRoleName,
			Title:           "Unauthorized",
			PermissionNames: []string{UncoveredPermissionName},
		},
		{
			Name:            "client",
			Title:           "Client",
			PermissionNames: []string{"get:item", "do:buy-item"},
		},
	}
}

func TestGuardSeedsOnce(t *testing.T) {
	repo, registry, store := newTestGraph(t, itemDeclarations())
	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)

	guard := NewGuard(repo, repo, store, nil)
	require.Equal(t, Unseeded, guard.State())

	require.NoError(t, guard.RunOnce(context.Background(), clientDefaults()))
	require.Equal(t, Seeded, guard.State())

	roles, err := store.Get(context.Background(), RoleFilter{})
	require.NoError(t, err)
	require.Len(t, roles, 2)

	unauthorized, err := store.Get(context.Background(), RoleFilter{Names: []string{UnauthorizedRoleName}})
	require.NoError(t, err)
	require.Len(t, unauthorized, 1)
	require.True(t, unauthorized[0].IsDynamic)
	require.Len(t, unauthorized[0].PermissionIDs, 1)

	// A second run loses the flag and changes nothing.
	again := NewGuard(repo, repo, store, nil)
	require.NoError(t, again.RunOnce(context.Background(), clientDefaults()))
	require.Equal(t, Seeded, again.State())

	roles, err = store.Get(context.Background(), RoleFilter{})
	require.NoError(t, err)
	require.Len(t, roles, 2)
}

func TestGuardConcurrentStartupsSingleWinner(t *testing.T) {
	repo, registry, store := newTestGraph(t, itemDeclarations())
	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)

	const instances = 8
	var wg sync.WaitGroup
	errs := make([]error, instances)
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			guard := NewGuard(repo, repo, store, nil)
			errs[i] = guard.RunOnce(context.Background(), clientDefaults())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	roles, err := store.Get(context.Background(), RoleFilter{})
	require.NoError(t, err)
	require.Len(t, roles, 2, "exactly one instance may seed")
}

func TestGuardMissingPermission(t *testing.T) {
	repo, registry, store := newTestGraph(t, itemDeclarations())
	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)

	guard := NewGuard(repo, repo, store, nil)
	err = guard.RunOnce(context.Background(), []DefaultRole{
		{Name: "client", PermissionNames: []string{"get:item", "get:nonexistent"}},
	})
	var missing *MissingPermissionError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "client", missing.RoleName)
	require.Equal(t, []string{"get:nonexistent"}, missing.PermissionNames)
	require.Equal(t, Seeding, guard.State())

	// The flag was written before seeding ran, so a rerun is a no-op even
	// though the seed failed. Recovery takes a manual flag reset.
	acquired, err := repo.AcquireFlag(context.Background(), BootFlagKey)
	require.NoError(t, err)
	require.False(t, acquired)
}
