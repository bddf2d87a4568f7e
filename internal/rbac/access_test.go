package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// accessFixture reconciles the declarations and wires an engine over the
// same in-memory repository.
type accessFixture struct {
	repo     *memRepo
	store    *Store
	registry *Registry
	engine   *Engine
}

func newAccessFixture(t *testing.T, decls []Declaration) *accessFixture {
	t.Helper()
	repo, registry, store := newTestGraph(t, decls)
	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	return &accessFixture{
		repo:     repo,
		store:    store,
		registry: registry,
		engine:   NewEngine(repo, repo, registry, nil),
	}
}

func (f *accessFixture) grantRole(t *testing.T, name string, memberIDs []string, permissionNames ...string) Role {
	t.Helper()
	var ids []string
	for _, permName := range permissionNames {
		ids = append(ids, permissionByName(t, f.repo, permName).ID)
	}
	role, err := f.store.Create(context.Background(), RoleCreate{
		Name:          name,
		PermissionIDs: ids,
		IsDynamic:     HasDynamicPrefix(name),
	})
	require.NoError(t, err)
	for _, memberID := range memberIDs {
		role, err = f.store.AddMember(context.Background(), role.ID, memberID)
		require.NoError(t, err)
	}
	return role
}

func TestCheckAccessClientScenario(t *testing.T) {
	f := newAccessFixture(t, itemDeclarations())
	f.grantRole(t, "client", []string{"caller-1"}, "get:item", "do:buy-item")

	allowed, err := f.engine.CheckAccess(context.Background(), "caller-1", "/items", "GET")
	require.NoError(t, err)
	require.True(t, allowed.Allowed)

	bought, err := f.engine.CheckAccess(context.Background(), "caller-1", "/items/{id}/buy", "POST")
	require.NoError(t, err)
	require.True(t, bought.Allowed)

	denied, err := f.engine.CheckAccess(context.Background(), "caller-1", "/items/{id}", "PATCH")
	require.NoError(t, err)
	require.False(t, denied.Allowed)
	require.Contains(t, denied.Reason(), "caller-1")
}

func TestCheckAccessMethodCaseInsensitive(t *testing.T) {
	f := newAccessFixture(t, itemDeclarations())
	f.grantRole(t, "client", []string{"caller-1"}, "get:item")

	decision, err := f.engine.CheckAccess(context.Background(), "caller-1", "/items", "get")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestCheckAccessUnknownCallerDenied(t *testing.T) {
	f := newAccessFixture(t, itemDeclarations())

	decision, err := f.engine.CheckAccess(context.Background(), "stranger", "/items", "GET")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestCheckAccessAnonymousViaUnauthorizedRole(t *testing.T) {
	decls := append(itemDeclarations(), Declaration{Route: "/about", Method: "GET"})
	f := newAccessFixture(t, decls)
	f.grantRole(t, UnauthorizedRoleName, nil, UncoveredPermissionName)

	// /about has no declared permission, so it falls under dynamic:uncovered.
	open, err := f.engine.CheckAccess(context.Background(), "", "/about", "GET")
	require.NoError(t, err)
	require.True(t, open.Allowed)

	covered, err := f.engine.CheckAccess(context.Background(), "", "/items", "GET")
	require.NoError(t, err)
	require.False(t, covered.Allowed)
}

func TestCheckAccessUnauthorizedRoleMissing(t *testing.T) {
	f := newAccessFixture(t, itemDeclarations())

	_, err := f.engine.CheckAccess(context.Background(), "", "/items", "GET")
	require.ErrorIs(t, err, ErrUnauthorizedRoleMissing)
}

func TestCheckAccessEmptyActionPermissionInert(t *testing.T) {
	f := newAccessFixture(t, itemDeclarations())

	// dynamic:uncovered currently has no effective actions; holding it
	// alongside a matching permission must not mask the allow.
	f.grantRole(t, "client", []string{"caller-1"}, UncoveredPermissionName, "get:item")

	decision, err := f.engine.CheckAccess(context.Background(), "caller-1", "/items", "GET")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// Holding only the empty permission is a deny, never an error.
	f.grantRole(t, "watcher", []string{"caller-2"}, UncoveredPermissionName)
	denied, err := f.engine.CheckAccess(context.Background(), "caller-2", "/items", "GET")
	require.NoError(t, err)
	require.False(t, denied.Allowed)
}

func TestCheckAccessUncoveredRecomputedOnReconcile(t *testing.T) {
	provider := &staticProvider{decls: append(itemDeclarations(), Declaration{Route: "/about", Method: "GET"})}
	repo := newMemRepo()
	store := NewStore(repo, repo, nil)
	registry := NewRegistry(provider, repo, store, nil)
	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)

	engine := NewEngine(repo, repo, registry, nil)
	roleStoreFixture := &accessFixture{repo: repo, store: store, registry: registry, engine: engine}
	roleStoreFixture.grantRole(t, "visitor", []string{"caller-1"}, UncoveredPermissionName)

	open, err := engine.CheckAccess(context.Background(), "caller-1", "/about", "GET")
	require.NoError(t, err)
	require.True(t, open.Allowed)

	// A later pass that declares a permission for /about shrinks the
	// uncovered set, closing the route for uncovered-only callers.
	provider.decls = append(itemDeclarations(), Declaration{Route: "/about", Method: "GET", Permission: "get:about"})
	_, err = registry.Reconcile(context.Background())
	require.NoError(t, err)

	closed, err := engine.CheckAccess(context.Background(), "caller-1", "/about", "GET")
	require.NoError(t, err)
	require.False(t, closed.Allowed)
}
