package rbac

// Action is a concrete (route, method) pair a permission grants. Routes are
// stable template strings such as "/roles/{id}"; methods are upper-case.
type Action struct {
	Route  string `json:"route"`
	Method string `json:"method"`
}

// Permission is a named, possibly dynamic, bundle of actions. Non-dynamic
// permission records are a derived cache of the route table: the registry
// overwrites them on every reconciliation pass and retires the ones no pass
// references. A dynamic permission carries no stored actions; its effective
// action set is computed from the dynamic name's rule.
type Permission struct {
	ID        string
	Name      string
	Actions   []Action
	IsDynamic bool
}

// Role is a named bundle of permissions with a member set. A dynamic role
// keeps nothing in MemberIDs; its effective membership is computed at
// decision time (for example "dynamic:unauthorized" covers every caller
// without an identity).
type Role struct {
	ID            string
	Name          string
	Title         string
	Description   string
	PermissionIDs []string
	MemberIDs     []string
	IsDynamic     bool
}

// BootFlag records whether a named one-time action has already run against
// the backing store. Flags are created lazily and never deleted.
type BootFlag struct {
	Key   string
	Value bool
}

// DefaultRole describes a role seeded on the store's first boot. Permission
// names are resolved to live permission ids at seed time.
type DefaultRole struct {
	Name            string
	Title           string
	Description     string
	PermissionNames []string
}

// PermissionFilter selects permissions by field. Empty slices and nil
// pointers mean "no constraint".
type PermissionFilter struct {
	IDs       []string
	Names     []string
	IsDynamic *bool
}

// RoleFilter selects roles by field.
type RoleFilter struct {
	IDs           []string
	Names         []string
	PermissionIDs []string
	MemberIDs     []string
	IsDynamic     *bool
}

// RoleCreate is the input for Store.Create. IsDynamic must agree with the
// name's dynamic prefix.
type RoleCreate struct {
	Name          string
	Title         string
	Description   string
	PermissionIDs []string
	IsDynamic     bool
}

// RolePatch describes the field operations applied atomically to one role.
// Nil pointers leave the field untouched; the slices add or remove single
// elements from the permission and member sets.
type RolePatch struct {
	Name                *string
	Title               *string
	Description         *string
	AddPermissionIDs    []string
	RemovePermissionIDs []string
	AddMemberIDs        []string
	RemoveMemberIDs     []string
}

// UnauthorizedRoleName is the dynamic role consulted for callers without an
// identity. It must exist before access checks run; seeding it is the
// integrator's responsibility (normally via the bootstrap defaults).
const UnauthorizedRoleName = DynamicPrefix + ":unauthorized"

// UncoveredPermissionName is the dynamic permission whose effective actions
// are every registered route/method no non-dynamic permission claims.
const UncoveredPermissionName = DynamicPrefix + ":uncovered"

// DynamicPermissionNames lists the well-known dynamic permissions the
// registry guarantees to exist after every reconciliation pass.
var DynamicPermissionNames = []string{UncoveredPermissionName}
