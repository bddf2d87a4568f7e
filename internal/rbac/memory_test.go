package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memRepo is an in-memory stand-in for Repository used across the package
// tests. It honors the same port contracts, including duplicate-name
// mapping and the conditional boot-flag write.
type memRepo struct {
	mu     sync.Mutex
	perms  map[string]Permission
	roles  map[string]Role
	flags  map[string]bool
	nextID int
}

func newMemRepo() *memRepo {
	return &memRepo{
		perms: make(map[string]Permission),
		roles: make(map[string]Role),
		flags: make(map[string]bool),
	}
}

func (r *memRepo) newID() string {
	r.nextID++
	return fmt.Sprintf("id-%d", r.nextID)
}

func (r *memRepo) GetPermissions(_ context.Context, filter PermissionFilter) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Permission
	for _, perm := range r.perms {
		if len(filter.IDs) > 0 && !containsString(filter.IDs, perm.ID) {
			continue
		}
		if len(filter.Names) > 0 && !containsString(filter.Names, perm.Name) {
			continue
		}
		if filter.IsDynamic != nil && perm.IsDynamic != *filter.IsDynamic {
			continue
		}
		out = append(out, copyPermission(perm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) EnsureDynamicPermission(_ context.Context, name string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, perm := range r.perms {
		if perm.Name == name {
			return copyPermission(perm), nil
		}
	}
	perm := Permission{ID: r.newID(), Name: name, IsDynamic: true}
	r.perms[perm.ID] = perm
	return copyPermission(perm), nil
}

func (r *memRepo) UpsertPermissionActions(_ context.Context, name string, actions []Action) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, perm := range r.perms {
		if perm.Name == name {
			perm.Actions = append([]Action(nil), actions...)
			r.perms[id] = perm
			return copyPermission(perm), nil
		}
	}
	perm := Permission{ID: r.newID(), Name: name, Actions: append([]Action(nil), actions...)}
	r.perms[perm.ID] = perm
	return copyPermission(perm), nil
}

func (r *memRepo) ListPermissionsOutside(_ context.Context, ids []string) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Permission
	for _, perm := range r.perms {
		if !containsString(ids, perm.ID) {
			out = append(out, copyPermission(perm))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) DeletePermission(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perms, id)
	return nil
}

func (r *memRepo) GetRoles(_ context.Context, filter RoleFilter) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Role
	for _, role := range r.roles {
		if len(filter.IDs) > 0 && !containsString(filter.IDs, role.ID) {
			continue
		}
		if len(filter.Names) > 0 && !containsString(filter.Names, role.Name) {
			continue
		}
		if len(filter.PermissionIDs) > 0 && !overlaps(filter.PermissionIDs, role.PermissionIDs) {
			continue
		}
		if len(filter.MemberIDs) > 0 && !overlaps(filter.MemberIDs, role.MemberIDs) {
			continue
		}
		if filter.IsDynamic != nil && role.IsDynamic != *filter.IsDynamic {
			continue
		}
		out = append(out, copyRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) InsertRole(_ context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, &DuplicateNameError{Name: role.Name}
		}
	}
	role.ID = r.newID()
	r.roles[role.ID] = copyRole(role)
	return copyRole(role), nil
}

func (r *memRepo) UpdateRole(_ context.Context, roleID string, apply func(Role) (Role, error)) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return Role{}, fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	updated, err := apply(copyRole(role))
	if err != nil {
		return Role{}, err
	}
	for _, other := range r.roles {
		if other.ID != roleID && other.Name == updated.Name {
			return Role{}, &DuplicateNameError{Name: updated.Name}
		}
	}
	r.roles[roleID] = copyRole(updated)
	return copyRole(updated), nil
}

func (r *memRepo) RemovePermissionFromRoles(_ context.Context, permissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, role := range r.roles {
		role.PermissionIDs = removeString(append([]string(nil), role.PermissionIDs...), permissionID)
		r.roles[id] = role
	}
	return nil
}

func (r *memRepo) DeleteRole(_ context.Context, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	delete(r.roles, roleID)
	return nil
}

func (r *memRepo) AcquireFlag(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flags[key] {
		return false, nil
	}
	r.flags[key] = true
	return true, nil
}

// staticProvider feeds a fixed declaration list to the registry.
type staticProvider struct {
	decls []Declaration
}

func (p *staticProvider) Declarations() []Declaration {
	return append([]Declaration(nil), p.decls...)
}

func copyPermission(p Permission) Permission {
	p.Actions = append([]Action(nil), p.Actions...)
	return p
}

func copyRole(r Role) Role {
	r.PermissionIDs = append([]string(nil), r.PermissionIDs...)
	r.MemberIDs = append([]string(nil), r.MemberIDs...)
	return r
}

func containsString(in []string, s string) bool {
	for _, v := range in {
		if v == s {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if containsString(b, v) {
			return true
		}
	}
	return false
}
