package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrStoreUnavailable wraps persistence failures. The engine performs no
	// retries itself; retry policy belongs to the store or the caller.
	ErrStoreUnavailable = errors.New("rbac: store unavailable")
	// ErrUnauthorizedRoleMissing means the dynamic:unauthorized role is
	// absent. This is a configuration fault, not a per-request denial.
	ErrUnauthorizedRoleMissing = errors.New("rbac: dynamic:unauthorized role is not seeded")
	// ErrDynamicRoleImmutable rejects rename or delete of a dynamic role.
	ErrDynamicRoleImmutable = errors.New("rbac: dynamic roles cannot be renamed or deleted")
)

// InvalidNameError reports a permission name that violates the
// "<abstract-action>:<target>" convention.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("rbac: invalid permission name %q: %s", e.Name, e.Reason)
}

// InvalidMethodError reports a request method outside the fixed enumeration.
type InvalidMethodError struct {
	Method string
}

func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("rbac: unsupported method %q", e.Method)
}

// NonDynamicPermissionError reports an attempt to create a dynamic-named
// permission with actions, or a non-dynamic one without any.
type NonDynamicPermissionError struct {
	Name      string
	InOrderTo string
}

func (e *NonDynamicPermissionError) Error() string {
	return fmt.Sprintf("rbac: permission %q cannot be used to %s", e.Name, e.InOrderTo)
}

// DuplicateNameError reports a role name collision.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("rbac: role name %q already taken", e.Name)
}

// AlreadyMemberError reports adding a member a role already has.
type AlreadyMemberError struct {
	RoleID   string
	MemberID string
}

func (e *AlreadyMemberError) Error() string {
	return fmt.Sprintf("rbac: member %q already belongs to role %q", e.MemberID, e.RoleID)
}

// DynamicPrefixMismatchError reports disagreement between a role's dynamic
// flag and its name prefix.
type DynamicPrefixMismatchError struct {
	Name      string
	IsDynamic bool
}

func (e *DynamicPrefixMismatchError) Error() string {
	if e.IsDynamic {
		return fmt.Sprintf("rbac: dynamic role requires the %q name prefix, got %q", DynamicPrefix+":", e.Name)
	}
	return fmt.Sprintf("rbac: name %q carries the %q prefix but the role is not dynamic", e.Name, DynamicPrefix+":")
}

// MissingPermissionError fails a bootstrap pass whose default role lists a
// permission name no reconciliation produced.
type MissingPermissionError struct {
	RoleName        string
	PermissionNames []string
}

func (e *MissingPermissionError) Error() string {
	return fmt.Sprintf(
		"rbac: default role %q references unresolved permissions [%s]",
		e.RoleName, strings.Join(e.PermissionNames, ", "),
	)
}
