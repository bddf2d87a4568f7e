package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// PermissionRepositoryPort describes the persistence operations the registry
// needs. The registry is the sole writer of permission records.
type PermissionRepositoryPort interface {
	GetPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)
	// EnsureDynamicPermission creates the named dynamic permission if absent
	// and leaves an existing record untouched.
	EnsureDynamicPermission(ctx context.Context, name string) (Permission, error)
	// UpsertPermissionActions creates a non-dynamic permission or fully
	// replaces the action set of an existing one.
	UpsertPermissionActions(ctx context.Context, name string, actions []Action) (Permission, error)
	// ListPermissionsOutside returns every permission whose id is not in ids.
	ListPermissionsOutside(ctx context.Context, ids []string) ([]Permission, error)
	DeletePermission(ctx context.Context, id string) error
}

// RolePruner removes a retired permission id from every role holding it.
// Implemented by the role store; invoked before the record is deleted so no
// role ever references a permission the store cannot read.
type RolePruner interface {
	PrunePermission(ctx context.Context, permissionID string) error
}

// ReconcileResult reports which permission records a pass touched.
type ReconcileResult struct {
	AffectedIDs []string
	RetiredIDs  []string
}

// Registry reconciles declared route permissions with persisted permission
// records. Reconciliation is idempotent: an unchanged route table yields the
// same affected set and an empty retired set on the second pass.
type Registry struct {
	provider RouteTableProvider
	perms    PermissionRepositoryPort
	pruner   RolePruner
	logger   *slog.Logger

	mu        sync.RWMutex
	uncovered []Action
}

// NewRegistry constructs a registry.
func NewRegistry(provider RouteTableProvider, perms PermissionRepositoryPort, pruner RolePruner, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{provider: provider, perms: perms, pruner: pruner, logger: logger}
}

// Reconcile derives the authoritative permission set from the current route
// table: it ensures the well-known dynamic permissions exist, upserts one
// permission per declared name with the union of that name's actions, and
// retires every persisted permission no declaration references. Retirement
// prunes role references before deleting the record.
func (g *Registry) Reconcile(ctx context.Context) (ReconcileResult, error) {
	affected := make(map[string]struct{})

	for _, name := range DynamicPermissionNames {
		perm, err := g.ensurePermission(ctx, name, nil)
		if err != nil {
			return ReconcileResult{}, err
		}
		affected[perm.ID] = struct{}{}
	}

	actionsByName, uncovered, err := g.groupDeclarations()
	if err != nil {
		return ReconcileResult{}, err
	}

	names := make([]string, 0, len(actionsByName))
	for name := range actionsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		perm, err := g.ensurePermission(ctx, name, actionsByName[name])
		if err != nil {
			return ReconcileResult{}, err
		}
		affected[perm.ID] = struct{}{}
	}

	retired, err := g.retireUnused(ctx, affected)
	if err != nil {
		return ReconcileResult{}, err
	}

	g.mu.Lock()
	g.uncovered = uncovered
	g.mu.Unlock()

	result := ReconcileResult{AffectedIDs: sortedKeys(affected), RetiredIDs: retired}
	g.logger.Info("permissions reconciled",
		slog.Int("affected", len(result.AffectedIDs)),
		slog.Int("retired", len(result.RetiredIDs)),
		slog.Int("uncovered_actions", len(uncovered)),
	)
	return result, nil
}

// EffectiveActions resolves the computed action set of a dynamic permission
// name from the last reconciliation this process observed. Unknown names
// yield nil, which the decision engine treats as an inert permission.
func (g *Registry) EffectiveActions(name string) []Action {
	if name != UncoveredPermissionName {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Action, len(g.uncovered))
	copy(out, g.uncovered)
	return out
}

// groupDeclarations validates the declared triples and unions actions per
// permission name. Declarations without a name accumulate into the
// uncovered action set, together with any pair no named group claimed.
func (g *Registry) groupDeclarations() (map[string][]Action, []Action, error) {
	byName := make(map[string][]Action)
	covered := make(map[Action]struct{})
	var all []Action
	seen := make(map[Action]struct{})

	for _, decl := range g.provider.Declarations() {
		method, err := NormalizeMethod(decl.Method)
		if err != nil {
			return nil, nil, err
		}
		act := Action{Route: decl.Route, Method: method}
		if _, ok := seen[act]; !ok {
			seen[act] = struct{}{}
			all = append(all, act)
		}
		if decl.Permission == "" {
			continue
		}
		if err := ValidateName(decl.Permission); err != nil {
			return nil, nil, err
		}
		byName[decl.Permission] = appendUniqueAction(byName[decl.Permission], act)
		covered[act] = struct{}{}
	}

	var uncovered []Action
	for _, act := range all {
		if _, ok := covered[act]; !ok {
			uncovered = append(uncovered, act)
		}
	}
	return byName, uncovered, nil
}

// ensurePermission saves a permission with the given actions, or overwrites
// the actions of an existing one. Nil actions are legal only for
// dynamic-prefixed names; non-nil actions only for plain names.
func (g *Registry) ensurePermission(ctx context.Context, name string, actions []Action) (Permission, error) {
	dynamic := HasDynamicPrefix(name)
	if actions == nil && !dynamic {
		return Permission{}, &NonDynamicPermissionError{Name: name, InOrderTo: "create without actions"}
	}
	if actions != nil && dynamic {
		return Permission{}, &NonDynamicPermissionError{Name: name, InOrderTo: "pair with actions"}
	}
	if dynamic {
		return g.perms.EnsureDynamicPermission(ctx, name)
	}
	return g.perms.UpsertPermissionActions(ctx, name, actions)
}

// retireUnused deletes every permission a pass did not touch, pruning role
// references first. The prune-then-delete order per id is load-bearing: a
// role must never transiently reference an unreadable permission.
func (g *Registry) retireUnused(ctx context.Context, affected map[string]struct{}) ([]string, error) {
	stale, err := g.perms.ListPermissionsOutside(ctx, sortedKeys(affected))
	if err != nil {
		return nil, err
	}
	retired := make([]string, 0, len(stale))
	for _, perm := range stale {
		if err := g.pruner.PrunePermission(ctx, perm.ID); err != nil {
			return nil, fmt.Errorf("prune permission %s: %w", perm.ID, err)
		}
		if err := g.perms.DeletePermission(ctx, perm.ID); err != nil {
			return nil, fmt.Errorf("delete permission %s: %w", perm.ID, err)
		}
		g.logger.Info("permission retired", slog.String("id", perm.ID), slog.String("name", perm.Name))
		retired = append(retired, perm.ID)
	}
	sort.Strings(retired)
	return retired, nil
}

func appendUniqueAction(actions []Action, act Action) []Action {
	for _, a := range actions {
		if a == act {
			return actions
		}
	}
	return append(actions, act)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
