package rbac

import (
	"context"
	"fmt"
	"log/slog"
)

// RoleRepositoryPort describes the persistence operations the role store
// needs. UpdateRole applies the closure to the current record atomically
// with respect to other writers of the same role; InsertRole and the rename
// path inside UpdateRole surface name collisions as *DuplicateNameError.
type RoleRepositoryPort interface {
	GetRoles(ctx context.Context, filter RoleFilter) ([]Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, roleID string, apply func(Role) (Role, error)) (Role, error)
	RemovePermissionFromRoles(ctx context.Context, permissionID string) error
	DeleteRole(ctx context.Context, roleID string) error
}

// PermissionReader is the read-only slice of the permission repository the
// role store and decision engine consume.
type PermissionReader interface {
	GetPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)
}

// Store owns all role writes: creation, membership, patching, and the
// reference pruning the registry invokes when it retires a permission.
type Store struct {
	repo   RoleRepositoryPort
	perms  PermissionReader
	logger *slog.Logger
}

// NewStore constructs a role store.
func NewStore(repo RoleRepositoryPort, perms PermissionReader, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, perms: perms, logger: logger}
}

// Create inserts a new role. The dynamic flag must agree with the name's
// dynamic prefix, every referenced permission must exist, and the name must
// be unique.
func (s *Store) Create(ctx context.Context, input RoleCreate) (Role, error) {
	if HasDynamicPrefix(input.Name) != input.IsDynamic {
		return Role{}, &DynamicPrefixMismatchError{Name: input.Name, IsDynamic: input.IsDynamic}
	}
	if err := s.resolvePermissionIDs(ctx, input.PermissionIDs); err != nil {
		return Role{}, err
	}
	role, err := s.repo.InsertRole(ctx, Role{
		Name:          input.Name,
		Title:         input.Title,
		Description:   input.Description,
		PermissionIDs: uniqueStrings(input.PermissionIDs),
		IsDynamic:     input.IsDynamic,
	})
	if err != nil {
		return Role{}, err
	}
	s.logger.Info("role created", slog.String("id", role.ID), slog.String("name", role.Name))
	return role, nil
}

// Get returns every role matching the filter.
func (s *Store) Get(ctx context.Context, filter RoleFilter) ([]Role, error) {
	return s.repo.GetRoles(ctx, filter)
}

// GetByID returns a single role or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, roleID string) (Role, error) {
	roles, err := s.repo.GetRoles(ctx, RoleFilter{IDs: []string{roleID}})
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	return roles[0], nil
}

// AddMember appends a member to a role. Adding a member the role already has
// is rejected, not silently ignored.
func (s *Store) AddMember(ctx context.Context, roleID, memberID string) (Role, error) {
	return s.repo.UpdateRole(ctx, roleID, func(role Role) (Role, error) {
		for _, id := range role.MemberIDs {
			if id == memberID {
				return Role{}, &AlreadyMemberError{RoleID: roleID, MemberID: memberID}
			}
		}
		role.MemberIDs = append(role.MemberIDs, memberID)
		return role, nil
	})
}

// Patch applies field operations to one role atomically. Renames keep the
// dynamic flag and the name prefix in agreement; dynamic roles cannot be
// renamed at all.
func (s *Store) Patch(ctx context.Context, roleID string, patch RolePatch) (Role, error) {
	return s.repo.UpdateRole(ctx, roleID, func(role Role) (Role, error) {
		if patch.Name != nil && *patch.Name != role.Name {
			if role.IsDynamic {
				return Role{}, ErrDynamicRoleImmutable
			}
			if HasDynamicPrefix(*patch.Name) != role.IsDynamic {
				return Role{}, &DynamicPrefixMismatchError{Name: *patch.Name, IsDynamic: role.IsDynamic}
			}
			role.Name = *patch.Name
		}
		if patch.Title != nil {
			role.Title = *patch.Title
		}
		if patch.Description != nil {
			role.Description = *patch.Description
		}
		role.PermissionIDs = applySetOps(role.PermissionIDs, patch.AddPermissionIDs, patch.RemovePermissionIDs)
		role.MemberIDs = applySetOps(role.MemberIDs, patch.AddMemberIDs, patch.RemoveMemberIDs)
		return role, nil
	})
}

// Delete removes a non-dynamic role.
func (s *Store) Delete(ctx context.Context, roleID string) error {
	role, err := s.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsDynamic {
		return ErrDynamicRoleImmutable
	}
	return s.repo.DeleteRole(ctx, roleID)
}

// PrunePermission removes the permission id from every role referencing it.
// Called by the registry before it deletes a retired permission record.
func (s *Store) PrunePermission(ctx context.Context, permissionID string) error {
	return s.repo.RemovePermissionFromRoles(ctx, permissionID)
}

// resolvePermissionIDs verifies that every referenced permission exists.
func (s *Store) resolvePermissionIDs(ctx context.Context, ids []string) error {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil
	}
	perms, err := s.perms.GetPermissions(ctx, PermissionFilter{IDs: ids})
	if err != nil {
		return err
	}
	if len(perms) != len(ids) {
		return fmt.Errorf("some referenced permissions do not exist: %w", ErrNotFound)
	}
	return nil
}

func applySetOps(current, add, remove []string) []string {
	out := append([]string(nil), current...)
	for _, id := range add {
		out = appendUniqueString(out, id)
	}
	for _, id := range remove {
		out = removeString(out, id)
	}
	return out
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = appendUniqueString(out, s)
	}
	return out
}

func appendUniqueString(in []string, s string) []string {
	for _, v := range in {
		if v == s {
			return in
		}
	}
	return append(in, s)
}

func removeString(in []string, s string) []string {
	out := in[:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
