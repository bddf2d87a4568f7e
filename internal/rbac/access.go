package rbac

import (
	"context"
	"fmt"
	"log/slog"
)

// Decision is the outcome of an access check. A denial is a routine answer,
// not an error: faults (store unavailable, missing configuration) surface on
// the error return instead.
type Decision struct {
	Allowed bool
	Caller  string
	Route   string
	Method  string
}

// Reason renders a deny explanation for logging.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	caller := d.Caller
	if caller == "" {
		caller = "<anonymous>"
	}
	return fmt.Sprintf("caller %s holds no permission matching %s %s", caller, d.Method, d.Route)
}

// DynamicActionSource resolves the computed action set of dynamic
// permissions; implemented by the registry from its last reconciliation.
type DynamicActionSource interface {
	EffectiveActions(name string) []Action
}

// RoleReader is the read-only slice of the role repository the engine uses.
type RoleReader interface {
	GetRoles(ctx context.Context, filter RoleFilter) ([]Role, error)
}

// AccessEngine answers allow/deny for a caller and a requested
// (route, method). It is read-only with respect to the access graph.
type AccessEngine interface {
	CheckAccess(ctx context.Context, callerID, route, method string) (Decision, error)
}

// Engine is the plain, uncached access decision engine.
type Engine struct {
	roles   RoleReader
	perms   PermissionReader
	dynamic DynamicActionSource
	logger  *slog.Logger
}

// NewEngine constructs an engine.
func NewEngine(roles RoleReader, perms PermissionReader, dynamic DynamicActionSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{roles: roles, perms: perms, dynamic: dynamic, logger: logger}
}

// CheckAccess resolves the caller's permission set and allows the request if
// any held action matches the route and method. An empty callerID marks an
// unauthenticated caller, resolved through the dynamic:unauthorized role.
// The outcome is a pure existential match: evaluation order across roles and
// permissions cannot change it.
func (e *Engine) CheckAccess(ctx context.Context, callerID, route, method string) (Decision, error) {
	decision := Decision{Caller: callerID, Route: route, Method: method}

	permissionIDs, err := e.resolvePermissionIDs(ctx, callerID)
	if err != nil {
		return Decision{}, err
	}
	if len(permissionIDs) == 0 {
		return decision, nil
	}

	perms, err := e.perms.GetPermissions(ctx, PermissionFilter{IDs: permissionIDs})
	if err != nil {
		return Decision{}, err
	}
	for _, perm := range perms {
		actions := perm.Actions
		if perm.IsDynamic {
			actions = e.dynamic.EffectiveActions(perm.Name)
		}
		// A permission with no actions grants nothing.
		for _, act := range actions {
			if MatchesAction(act, route, method) {
				decision.Allowed = true
				return decision, nil
			}
		}
	}
	return decision, nil
}

func (e *Engine) resolvePermissionIDs(ctx context.Context, callerID string) ([]string, error) {
	var filter RoleFilter
	if callerID == "" {
		filter.Names = []string{UnauthorizedRoleName}
	} else {
		filter.MemberIDs = []string{callerID}
	}
	roles, err := e.roles.GetRoles(ctx, filter)
	if err != nil {
		return nil, err
	}
	if callerID == "" && len(roles) == 0 {
		return nil, ErrUnauthorizedRoleMissing
	}
	var ids []string
	for _, role := range roles {
		for _, id := range role.PermissionIDs {
			ids = appendUniqueString(ids, id)
		}
	}
	return ids, nil
}
