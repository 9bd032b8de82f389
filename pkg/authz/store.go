package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store handles role, permission, and assignment persistence. Queries use
// numbered placeholders, which both supported drivers (lib/pq and
// mattn/go-sqlite3) understand.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore creates a new RBAC store. driver must match the driver name the
// *sql.DB was opened with ("postgres" or "sqlite3"); it only affects DDL.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// EnsureSchema creates the RBAC tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, query := range schemaStatements(s.driver) {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure rbac schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(driver string) []string {
	idCol := "BIGSERIAL PRIMARY KEY"
	tsCol := "TIMESTAMP WITH TIME ZONE"
	if driver == "sqlite3" {
		idCol = "INTEGER PRIMARY KEY AUTOINCREMENT"
		tsCol = "DATETIME"
	}
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS principals (
			id %s,
			username VARCHAR(255) NOT NULL UNIQUE,
			email VARCHAR(255),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			department_id BIGINT,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, idCol, tsCol, tsCol),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS roles (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			display_name VARCHAR(255),
			description TEXT,
			guard VARCHAR(50) NOT NULL DEFAULT 'web',
			level INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, idCol, tsCol, tsCol),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS permissions (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			description TEXT,
			created_at %s NOT NULL
		)`, idCol, tsCol),
		`
		CREATE TABLE IF NOT EXISTS role_permissions (
			role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
			PRIMARY KEY (role_id, permission_id)
		)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS principal_roles (
			principal_id BIGINT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
			role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			granted_by BIGINT,
			granted_at %s NOT NULL,
			PRIMARY KEY (principal_id, role_id)
		)`, tsCol),
	}
}

// EnsurePermissions inserts catalog rows for any permissions not yet present.
// Existing rows are left untouched, so repeated bootstraps are idempotent.
func (s *Store) EnsurePermissions(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		query := `
			INSERT INTO permissions (name, description, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`
		if _, err := s.db.ExecContext(ctx, query, string(p), "", time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to ensure permission %s: %w", p, err)
		}
	}
	return nil
}

// CreatePrincipal inserts a principal record and sets its generated ID.
func (s *Store) CreatePrincipal(ctx context.Context, p *Principal) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO principals (username, email, active, department_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		p.Username, p.Email, p.Active, p.DepartmentID, now, now,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (s *Store) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	query := `
		SELECT id, username, email, active, department_id, created_at, updated_at
		FROM principals
		WHERE id = $1
	`
	var (
		p     Principal
		email sql.NullString
		dept  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Username, &email, &p.Active, &dept, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: principal %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	p.Email = email.String
	if dept.Valid {
		d := dept.Int64
		p.DepartmentID = &d
	}
	return &p, nil
}

// SetPrincipalActive flips the principal's active flag.
func (s *Store) SetPrincipalActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update principal status: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("principal %d", id))
}

// CreateRole inserts a role and sets its generated ID.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Guard == "" {
		role.Guard = GuardWeb
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO roles (name, display_name, description, guard, level, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		role.Name, role.DisplayName, role.Description, role.Guard, role.Level, role.Active, now, now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, id), fmt.Sprintf("role %d", id))
}

// GetRoleByName retrieves a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, roleSelect+` WHERE name = $1`, name), fmt.Sprintf("role %q", name))
}

const roleSelect = `
	SELECT id, name, display_name, description, guard, level, active, created_at, updated_at
	FROM roles`

func (s *Store) scanRole(row *sql.Row, what string) (*Role, error) {
	var (
		role        Role
		displayName sql.NullString
		description sql.NullString
	)
	err := row.Scan(
		&role.ID, &role.Name, &displayName, &description,
		&role.Guard, &role.Level, &role.Active, &role.CreatedAt, &role.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	role.DisplayName = displayName.String
	role.Description = description.String
	return &role, nil
}

// ListRoles returns all roles ordered by level then name.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, roleSelect+` ORDER BY level DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var (
			role        Role
			displayName sql.NullString
			description sql.NullString
		)
		if err := rows.Scan(
			&role.ID, &role.Name, &displayName, &description,
			&role.Guard, &role.Level, &role.Active, &role.CreatedAt, &role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.DisplayName = displayName.String
		role.Description = description.String
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole persists mutable role attributes.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET display_name = $1, description = $2, guard = $3, level = $4, active = $5, updated_at = $6
		WHERE id = $7
	`
	role.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		role.DisplayName, role.Description, role.Guard, role.Level, role.Active, role.UpdatedAt, role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("role %d", role.ID))
}

// DeleteRole removes a role row. Invariant checks (protected role, assigned
// principals) belong to the service layer, not here.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("role %d", id))
}

// AssignedCount returns how many principals currently hold the role.
func (s *Store) AssignedCount(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM principal_roles WHERE role_id = $1`, roleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return count, nil
}

// AssignPermission grants a permission to a role. Granting an already-held
// permission is a no-op; an unknown role or permission is ErrNotFound.
func (s *Store) AssignPermission(ctx context.Context, roleID int64, perm Permission) error {
	permID, err := s.permissionID(ctx, perm)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return err
	}
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, roleID, permID); err != nil {
		return fmt.Errorf("failed to assign permission: %w", err)
	}
	return nil
}

// RevokePermission removes a permission from a role. Revoking a permission
// the role does not hold is a no-op; an unknown role or permission is
// ErrNotFound.
func (s *Store) RevokePermission(ctx context.Context, roleID int64, perm Permission) error {
	permID, err := s.permissionID(ctx, perm)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return err
	}
	query := `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`
	if _, err := s.db.ExecContext(ctx, query, roleID, permID); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

// HasPermission reports whether the role has been granted the permission.
func (s *Store) HasPermission(ctx context.Context, roleID int64, perm Permission) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND p.name = $2
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, roleID, string(perm)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check role permission: %w", err)
	}
	return count > 0, nil
}

// RolePermissions returns the permissions granted to a role.
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`
	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, Permission(name))
	}
	return perms, rows.Err()
}

// AssignRole grants a role to a principal. Repeat assignments are a no-op.
func (s *Store) AssignRole(ctx context.Context, principalID, roleID int64, grantedBy *int64) error {
	if err := s.requirePrincipal(ctx, principalID); err != nil {
		return err
	}
	if err := s.requireRole(ctx, roleID); err != nil {
		return err
	}
	query := `
		INSERT INTO principal_roles (principal_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id, role_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, principalID, roleID, grantedBy, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole removes a role from a principal.
func (s *Store) RemoveRole(ctx context.Context, principalID, roleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM principal_roles WHERE principal_id = $1 AND role_id = $2`,
		principalID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("assignment of role %d to principal %d", roleID, principalID))
}

// RolesOf returns all roles held by the principal.
func (s *Store) RolesOf(ctx context.Context, principalID int64) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.display_name, r.description, r.guard, r.level, r.active, r.created_at, r.updated_at
		FROM roles r
		JOIN principal_roles pr ON pr.role_id = r.id
		WHERE pr.principal_id = $1
		ORDER BY r.level DESC, r.name
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principal roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var (
			role        Role
			displayName sql.NullString
			description sql.NullString
		)
		if err := rows.Scan(
			&role.ID, &role.Name, &displayName, &description,
			&role.Guard, &role.Level, &role.Active, &role.CreatedAt, &role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.DisplayName = displayName.String
		role.Description = description.String
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// PermissionsOf returns the union of permissions across the principal's
// active roles.
func (s *Store) PermissionsOf(ctx context.Context, principalID int64) ([]Permission, error) {
	query := `
		SELECT DISTINCT p.name
		FROM principal_roles pr
		JOIN roles r ON r.id = pr.role_id
		JOIN role_permissions rp ON rp.role_id = pr.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE pr.principal_id = $1 AND r.active = TRUE
		ORDER BY p.name
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principal permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, Permission(name))
	}
	return perms, rows.Err()
}

func (s *Store) permissionID(ctx context.Context, perm Permission) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, string(perm)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: permission %q", ErrNotFound, perm)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve permission: %w", err)
	}
	return id, nil
}

func (s *Store) requireRole(ctx context.Context, roleID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE id = $1`, roleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}
	return nil
}

func (s *Store) requirePrincipal(ctx context.Context, principalID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM principals WHERE id = $1`, principalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: principal %d", ErrNotFound, principalID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve principal: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}
