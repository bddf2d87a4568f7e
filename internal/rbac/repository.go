package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolegate/rolegate/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for permissions, roles,
// and boot flags. It satisfies the repository ports of the registry, the
// role store, the decision engine, and the bootstrap guard.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS permissions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		actions JSONB NOT NULL DEFAULT '[]',
		is_dynamic BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		permission_ids TEXT[] NOT NULL DEFAULT '{}',
		member_ids TEXT[] NOT NULL DEFAULT '{}',
		is_dynamic BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS roles_member_ids_idx ON roles USING GIN (member_ids)`,
	`CREATE TABLE IF NOT EXISTS boot_flags (
		key TEXT PRIMARY KEY,
		value BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

// EnsureSchema creates the backing tables when absent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("rbac: ensure schema: %w", err)
		}
	}
	return nil
}

// GetPermissions returns permissions matching the filter, ordered by name.
func (r *Repository) GetPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	query := `SELECT id, name, actions, is_dynamic FROM permissions`
	var conds []string
	var args []any
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if len(filter.Names) > 0 {
		args = append(args, filter.Names)
		conds = append(conds, fmt.Sprintf("name = ANY($%d)", len(args)))
	}
	if filter.IsDynamic != nil {
		args = append(args, *filter.IsDynamic)
		conds = append(conds, fmt.Sprintf("is_dynamic = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// EnsureDynamicPermission creates the named dynamic permission if absent and
// leaves an existing record untouched.
func (r *Repository) EnsureDynamicPermission(ctx context.Context, name string) (Permission, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (id, name, actions, is_dynamic) VALUES ($1, $2, '[]', TRUE)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), name)
	if err != nil {
		return Permission{}, err
	}
	row := r.pool.QueryRow(ctx, `SELECT id, name, actions, is_dynamic FROM permissions WHERE name = $1`, name)
	return scanPermission(row)
}

// UpsertPermissionActions creates a non-dynamic permission or replaces the
// action set of the existing record, preserving its identity.
func (r *Repository) UpsertPermissionActions(ctx context.Context, name string, actions []Action) (Permission, error) {
	payload, err := json.Marshal(actions)
	if err != nil {
		return Permission{}, err
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (id, name, actions, is_dynamic) VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (name) DO UPDATE SET actions = EXCLUDED.actions
		 RETURNING id, name, actions, is_dynamic`,
		uuid.NewString(), name, payload)
	return scanPermission(row)
}

// ListPermissionsOutside returns every permission whose id is not in ids.
func (r *Repository) ListPermissionsOutside(ctx context.Context, ids []string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, actions, is_dynamic FROM permissions WHERE NOT (id = ANY($1)) ORDER BY name`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// DeletePermission removes a permission record.
func (r *Repository) DeletePermission(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	return err
}

// GetRoles returns roles matching the filter, ordered by name.
func (r *Repository) GetRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	query := `SELECT id, name, title, description, permission_ids, member_ids, is_dynamic FROM roles`
	var conds []string
	var args []any
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if len(filter.Names) > 0 {
		args = append(args, filter.Names)
		conds = append(conds, fmt.Sprintf("name = ANY($%d)", len(args)))
	}
	if len(filter.PermissionIDs) > 0 {
		args = append(args, filter.PermissionIDs)
		conds = append(conds, fmt.Sprintf("permission_ids && $%d", len(args)))
	}
	if len(filter.MemberIDs) > 0 {
		args = append(args, filter.MemberIDs)
		conds = append(conds, fmt.Sprintf("member_ids && $%d", len(args)))
	}
	if filter.IsDynamic != nil {
		args = append(args, *filter.IsDynamic)
		conds = append(conds, fmt.Sprintf("is_dynamic = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Title, &role.Description, &role.PermissionIDs, &role.MemberIDs, &role.IsDynamic); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// InsertRole persists a new role, assigning its id.
func (r *Repository) InsertRole(ctx context.Context, role Role) (Role, error) {
	role.ID = uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO roles (id, name, title, description, permission_ids, member_ids, is_dynamic)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		role.ID, role.Name, role.Title, role.Description,
		asTextArray(role.PermissionIDs), asTextArray(role.MemberIDs), role.IsDynamic)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, &DuplicateNameError{Name: role.Name}
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole applies the closure to the current record under a row lock so
// the patch is atomic per role.
func (r *Repository) UpdateRole(ctx context.Context, roleID string, apply func(Role) (Role, error)) (Role, error) {
	var updated Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var role Role
		err := tx.QueryRow(ctx,
			`SELECT id, name, title, description, permission_ids, member_ids, is_dynamic
			 FROM roles WHERE id = $1 FOR UPDATE`, roleID).
			Scan(&role.ID, &role.Name, &role.Title, &role.Description, &role.PermissionIDs, &role.MemberIDs, &role.IsDynamic)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
			}
			return err
		}
		role, err = apply(role)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE roles SET name = $2, title = $3, description = $4, permission_ids = $5, member_ids = $6
			 WHERE id = $1`,
			role.ID, role.Name, role.Title, role.Description,
			asTextArray(role.PermissionIDs), asTextArray(role.MemberIDs))
		if err != nil {
			if isUniqueViolation(err) {
				return &DuplicateNameError{Name: role.Name}
			}
			return err
		}
		updated = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// RemovePermissionFromRoles prunes a permission id from every role's set.
func (r *Repository) RemovePermissionFromRoles(ctx context.Context, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE roles SET permission_ids = array_remove(permission_ids, $1) WHERE $1 = ANY(permission_ids)`,
		permissionID)
	return err
}

// DeleteRole removes a role record.
func (r *Repository) DeleteRole(ctx context.Context, roleID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	return nil
}

// AcquireFlag flips a boot flag false to true as one conditional write.
// Creating the flag and winning the flip both count as acquisition; with
// several instances racing, the store guarantees at most one winner.
func (r *Repository) AcquireFlag(ctx context.Context, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO boot_flags (key, value) VALUES ($1, TRUE)
		 ON CONFLICT (key) DO UPDATE SET value = TRUE WHERE boot_flags.value = FALSE`,
		key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (Permission, error) {
	var perm Permission
	var payload []byte
	if err := row.Scan(&perm.ID, &perm.Name, &payload, &perm.IsDynamic); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &perm.Actions); err != nil {
			return Permission{}, fmt.Errorf("rbac: decode actions for %s: %w", perm.Name, err)
		}
	}
	return perm, nil
}

// asTextArray keeps empty sets stored as empty arrays rather than NULL.
func asTextArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
