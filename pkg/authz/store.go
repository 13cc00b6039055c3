package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store is the persistence surface the engine evaluates against. All
// read methods return the zero result, not an error, when no row
// matches; a decision layer treats absence as its own default.
type Store interface {
	// GetSystemRoles returns the platform roles assigned to a user,
	// capabilities included.
	GetSystemRoles(ctx context.Context, userID int64) ([]SystemRole, error)

	// HasSystemRole reports whether a user holds the platform role.
	HasSystemRole(ctx context.Context, userID int64, code string) (bool, error)

	// GetMembership returns the user's membership row in a workspace,
	// or nil when the user is not a member.
	GetMembership(ctx context.Context, workspaceID, userID int64) (*WorkspaceMembership, error)

	// FindWorkspaceRole resolves the best role row for the candidate
	// codes: a workspace-scoped row beats a global template, then
	// earlier candidates beat later ones. Returns nil when no candidate
	// matches.
	FindWorkspaceRole(ctx context.Context, workspaceID int64, candidates []string) (*WorkspaceRole, error)

	// GetModuleCapabilities returns the explicit capability row for a
	// role and module, or nil when the role has none.
	GetModuleCapabilities(ctx context.Context, roleID int64, module string) (*ModuleCapabilities, error)

	// GetLegacySectionPermissions returns the user's legacy flat
	// permission map, or nil when the user has none.
	GetLegacySectionPermissions(ctx context.Context, userID int64) (map[string]map[string]bool, error)

	// GetUserOverrides returns the stored overrides for a user and
	// module, keyed by action exactly as stored.
	GetUserOverrides(ctx context.Context, workspaceID, userID int64, module string) (map[string]Effect, error)

	// ListUserOverrides returns every override row for a user in a
	// workspace.
	ListUserOverrides(ctx context.Context, workspaceID, userID int64) ([]PermissionOverride, error)

	// ReplaceUserOverrides atomically replaces the user's override set
	// for a workspace with the given rows and returns the inserted
	// rows. Rows are stored as given; callers normalize first.
	ReplaceUserOverrides(ctx context.Context, workspaceID, userID int64, rows []OverrideInput, actorID *int64) ([]PermissionOverride, error)

	// GetObjectACLs returns all ACL entries for an object.
	GetObjectACLs(ctx context.Context, objectType, objectID string) ([]ObjectACLEntry, error)

	// GetFeatureFlag returns the flag row at the given scope, or nil
	// when no row exists. Row presence is meaningful to the flag gate.
	GetFeatureFlag(ctx context.Context, code, scope string, scopeID *int64) (*FeatureFlag, error)
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetSystemRoles returns the platform roles assigned to a user.
func (s *PostgresStore) GetSystemRoles(ctx context.Context, userID int64) ([]SystemRole, error) {
	query := `
		SELECT r.id, r.code, r.name, r.description, r.is_system, r.capabilities, r.created_at
		FROM system_roles r
		JOIN platform_role_assignments a ON a.system_role_id = r.id
		WHERE a.user_id = $1
		ORDER BY r.code ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get system roles: %w", err)
	}
	defer rows.Close()

	var roles []SystemRole
	for rows.Next() {
		role, err := scanSystemRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan system role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, rows.Err()
}

// HasSystemRole reports whether a user holds the platform role.
func (s *PostgresStore) HasSystemRole(ctx context.Context, userID int64, code string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM platform_role_assignments a
			JOIN system_roles r ON r.id = a.system_role_id
			WHERE a.user_id = $1 AND r.code = $2
		)
	`

	var has bool
	if err := s.db.QueryRowContext(ctx, query, userID, code).Scan(&has); err != nil {
		return false, fmt.Errorf("failed to check system role: %w", err)
	}
	return has, nil
}

// GetMembership returns the user's membership row in a workspace.
func (s *PostgresStore) GetMembership(ctx context.Context, workspaceID, userID int64) (*WorkspaceMembership, error) {
	query := `
		SELECT id, workspace_id, user_id, role_code, joined_at
		FROM workspace_memberships
		WHERE workspace_id = $1 AND user_id = $2
	`

	var m WorkspaceMembership
	err := s.db.QueryRowContext(ctx, query, workspaceID, userID).Scan(
		&m.ID,
		&m.WorkspaceID,
		&m.UserID,
		&m.RoleCode,
		&m.JoinedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return &m, nil
}

// FindWorkspaceRole resolves the best role row for the candidate codes.
// Specificity wins first (workspace row over global template), then
// candidate order.
func (s *PostgresStore) FindWorkspaceRole(ctx context.Context, workspaceID int64, candidates []string) (*WorkspaceRole, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, workspace_id, code, name, description, priority, is_default, is_system, buckets, created_at
		FROM workspace_roles
		WHERE (workspace_id = $1 OR workspace_id IS NULL)
		  AND code = ANY($2)
		ORDER BY workspace_id DESC NULLS LAST, array_position($2, code)
		LIMIT 1
	`

	role, err := scanWorkspaceRole(s.db.QueryRowContext(ctx, query, workspaceID, pq.Array(candidates)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace role: %w", err)
	}

	return role, nil
}

// GetModuleCapabilities returns the explicit capability row for a role
// and module.
func (s *PostgresStore) GetModuleCapabilities(ctx context.Context, roleID int64, module string) (*ModuleCapabilities, error) {
	query := `
		SELECT capabilities
		FROM module_permissions
		WHERE workspace_role_id = $1 AND module = $2
	`

	var capabilitiesJSON []byte
	err := s.db.QueryRowContext(ctx, query, roleID, strings.ToLower(module)).Scan(&capabilitiesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module capabilities: %w", err)
	}

	var caps ModuleCapabilities
	if err := json.Unmarshal(capabilitiesJSON, &caps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal module capabilities: %w", err)
	}

	return &caps, nil
}

// GetLegacySectionPermissions returns the user's legacy flat permission
// map.
func (s *PostgresStore) GetLegacySectionPermissions(ctx context.Context, userID int64) (map[string]map[string]bool, error) {
	query := `
		SELECT permissions
		FROM legacy_section_permissions
		WHERE user_id = $1
	`

	var permissionsJSON []byte
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&permissionsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get legacy permissions: %w", err)
	}

	var sections map[string]map[string]bool
	if err := json.Unmarshal(permissionsJSON, &sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal legacy permissions: %w", err)
	}

	return sections, nil
}

// GetUserOverrides returns the stored overrides for a user and module.
func (s *PostgresStore) GetUserOverrides(ctx context.Context, workspaceID, userID int64, module string) (map[string]Effect, error) {
	query := `
		SELECT action, effect
		FROM permission_overrides
		WHERE workspace_id = $1 AND user_id = $2 AND module = $3
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID, userID, strings.ToLower(module))
	if err != nil {
		return nil, fmt.Errorf("failed to get overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]Effect)
	for rows.Next() {
		var action string
		var effect Effect
		if err := rows.Scan(&action, &effect); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides[action] = effect
	}

	return overrides, rows.Err()
}

// ListUserOverrides returns every override row for a user in a
// workspace.
func (s *PostgresStore) ListUserOverrides(ctx context.Context, workspaceID, userID int64) ([]PermissionOverride, error) {
	query := `
		SELECT id, workspace_id, user_id, module, action, effect, created_by, updated_by, created_at, updated_at
		FROM permission_overrides
		WHERE workspace_id = $1 AND user_id = $2
		ORDER BY module ASC, action ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []PermissionOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, *o)
	}

	return overrides, rows.Err()
}

// ReplaceUserOverrides atomically replaces the user's override set for a
// workspace. Delete and inserts share one transaction so readers never
// observe a partial set.
func (s *PostgresStore) ReplaceUserOverrides(ctx context.Context, workspaceID, userID int64, rows []OverrideInput, actorID *int64) ([]PermissionOverride, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM permission_overrides WHERE workspace_id = $1 AND user_id = $2`
	if _, err := tx.ExecContext(ctx, deleteQuery, workspaceID, userID); err != nil {
		return nil, fmt.Errorf("failed to delete overrides: %w", err)
	}

	insertQuery := `
		INSERT INTO permission_overrides (workspace_id, user_id, module, action, effect, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	inserted := make([]PermissionOverride, 0, len(rows))
	for _, row := range rows {
		o := PermissionOverride{
			WorkspaceID: workspaceID,
			UserID:      userID,
			Module:      row.Module,
			Action:      row.Action,
			Effect:      row.Effect,
			CreatedBy:   actorID,
			UpdatedBy:   actorID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := tx.QueryRowContext(ctx, insertQuery,
			o.WorkspaceID,
			o.UserID,
			o.Module,
			o.Action,
			o.Effect,
			o.CreatedBy,
			o.UpdatedBy,
			now,
			now,
		).Scan(&o.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert override: %w", err)
		}
		inserted = append(inserted, o)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit overrides: %w", err)
	}

	return inserted, nil
}

// GetObjectACLs returns all ACL entries for an object.
func (s *PostgresStore) GetObjectACLs(ctx context.Context, objectType, objectID string) ([]ObjectACLEntry, error) {
	query := `
		SELECT id, object_type, object_id, principal_type, principal_id, permissions,
		       inherit_from_parent, propagate_to_children, created_by, created_at
		FROM object_acls
		WHERE object_type = $1 AND object_id = $2
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get object acls: %w", err)
	}
	defer rows.Close()

	var entries []ObjectACLEntry
	for rows.Next() {
		entry, err := scanObjectACL(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan object acl: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// GetFeatureFlag returns the flag row at the given scope.
func (s *PostgresStore) GetFeatureFlag(ctx context.Context, code, scope string, scopeID *int64) (*FeatureFlag, error) {
	query := `
		SELECT id, code, scope, scope_id, enabled, description, updated_at
		FROM feature_flags
		WHERE code = $1 AND scope = $2
	`

	args := []interface{}{code, scope}
	if scopeID != nil {
		query += ` AND scope_id = $3`
		args = append(args, *scopeID)
	} else {
		query += ` AND scope_id IS NULL`
	}

	var flag FeatureFlag
	var flagScopeID sql.NullInt64
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&flag.ID,
		&flag.Code,
		&flag.Scope,
		&flagScopeID,
		&flag.Enabled,
		&description,
		&flag.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature flag: %w", err)
	}

	if flagScopeID.Valid {
		id := flagScopeID.Int64
		flag.ScopeID = &id
	}
	flag.Description = description.String

	return &flag, nil
}

// UpsertSystemRole inserts or updates a platform role definition by
// code. Used by seeding.
func (s *PostgresStore) UpsertSystemRole(ctx context.Context, role *SystemRole) error {
	capabilitiesJSON, err := json.Marshal(role.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO system_roles (code, name, description, is_system, capabilities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code)
		DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
		              is_system = EXCLUDED.is_system, capabilities = EXCLUDED.capabilities
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		role.Code,
		role.Name,
		role.Description,
		role.IsSystem,
		string(capabilitiesJSON),
		time.Now(),
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert system role: %w", err)
	}

	return nil
}

// AssignSystemRole grants a platform role to a user. Assigning an
// already-held role is a no-op.
func (s *PostgresStore) AssignSystemRole(ctx context.Context, userID int64, roleCode string, assignedBy *int64) error {
	query := `
		INSERT INTO platform_role_assignments (user_id, system_role_id, assigned_by, assigned_at)
		SELECT $1, r.id, $2, $3 FROM system_roles r WHERE r.code = $4
		ON CONFLICT (user_id, system_role_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, userID, assignedBy, time.Now(), roleCode)
	if err != nil {
		return fmt.Errorf("failed to assign system role: %w", err)
	}

	// Zero rows with no conflict means the role code does not exist.
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		exists, err := s.systemRoleExists(ctx, roleCode)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("system role not found: %s", roleCode)
		}
	}

	return nil
}

// RevokeSystemRole removes a platform role from a user.
func (s *PostgresStore) RevokeSystemRole(ctx context.Context, userID int64, roleCode string) error {
	query := `
		DELETE FROM platform_role_assignments a
		USING system_roles r
		WHERE a.system_role_id = r.id AND a.user_id = $1 AND r.code = $2
	`

	if _, err := s.db.ExecContext(ctx, query, userID, roleCode); err != nil {
		return fmt.Errorf("failed to revoke system role: %w", err)
	}
	return nil
}

// UpsertWorkspaceRole inserts or updates a role definition. Global
// templates conflict on code alone; workspace rows on (workspace, code).
func (s *PostgresStore) UpsertWorkspaceRole(ctx context.Context, role *WorkspaceRole) error {
	bucketsJSON, err := json.Marshal(role.Buckets)
	if err != nil {
		return fmt.Errorf("failed to marshal buckets: %w", err)
	}

	conflict := `ON CONFLICT (workspace_id, code) WHERE workspace_id IS NOT NULL`
	if role.WorkspaceID == nil {
		conflict = `ON CONFLICT (code) WHERE workspace_id IS NULL`
	}

	query := fmt.Sprintf(`
		INSERT INTO workspace_roles (workspace_id, code, name, description, priority, is_default, is_system, buckets, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		%s
		DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
		              priority = EXCLUDED.priority, is_default = EXCLUDED.is_default,
		              is_system = EXCLUDED.is_system, buckets = EXCLUDED.buckets
		RETURNING id
	`, conflict)

	err = s.db.QueryRowContext(ctx, query,
		role.WorkspaceID,
		role.Code,
		role.Name,
		role.Description,
		role.Priority,
		role.IsDefault,
		role.IsSystem,
		string(bucketsJSON),
		time.Now(),
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert workspace role: %w", err)
	}

	return nil
}

// UpsertModuleCapabilities sets a role's capability row for a module.
func (s *PostgresStore) UpsertModuleCapabilities(ctx context.Context, roleID int64, module string, caps ModuleCapabilities) error {
	capabilitiesJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO module_permissions (workspace_role_id, module, capabilities, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_role_id, module)
		DO UPDATE SET capabilities = EXCLUDED.capabilities, updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, roleID, strings.ToLower(module), string(capabilitiesJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert module capabilities: %w", err)
	}

	return nil
}

// UpsertMembership adds a user to a workspace or updates their role
// code.
func (s *PostgresStore) UpsertMembership(ctx context.Context, m *WorkspaceMembership) error {
	query := `
		INSERT INTO workspace_memberships (workspace_id, user_id, role_code, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id)
		DO UPDATE SET role_code = EXCLUDED.role_code
		RETURNING id, joined_at
	`

	err := s.db.QueryRowContext(ctx, query,
		m.WorkspaceID,
		m.UserID,
		m.RoleCode,
		time.Now(),
	).Scan(&m.ID, &m.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}

	return nil
}

// RemoveMembership removes a user from a workspace.
func (s *PostgresStore) RemoveMembership(ctx context.Context, workspaceID, userID int64) error {
	query := `DELETE FROM workspace_memberships WHERE workspace_id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, query, workspaceID, userID); err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return nil
}

// UpsertFeatureFlag inserts or updates a flag row at its scope.
func (s *PostgresStore) UpsertFeatureFlag(ctx context.Context, flag *FeatureFlag) error {
	conflict := `ON CONFLICT (code, scope, scope_id) WHERE scope_id IS NOT NULL`
	if flag.ScopeID == nil {
		conflict = `ON CONFLICT (code, scope) WHERE scope_id IS NULL`
	}

	query := fmt.Sprintf(`
		INSERT INTO feature_flags (code, scope, scope_id, enabled, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		%s
		DO UPDATE SET enabled = EXCLUDED.enabled, description = EXCLUDED.description,
		              updated_at = EXCLUDED.updated_at
		RETURNING id
	`, conflict)

	err := s.db.QueryRowContext(ctx, query,
		flag.Code,
		flag.Scope,
		flag.ScopeID,
		flag.Enabled,
		flag.Description,
		time.Now(),
	).Scan(&flag.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert feature flag: %w", err)
	}

	return nil
}

// SetLegacySectionPermissions replaces the legacy flat permission map
// for a user.
func (s *PostgresStore) SetLegacySectionPermissions(ctx context.Context, userID int64, sections map[string]map[string]bool) error {
	permissionsJSON, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("failed to marshal legacy permissions: %w", err)
	}

	query := `
		INSERT INTO legacy_section_permissions (user_id, permissions, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, userID, string(permissionsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to set legacy permissions: %w", err)
	}

	return nil
}

// CreateObjectACL inserts an ACL entry for an object.
func (s *PostgresStore) CreateObjectACL(ctx context.Context, entry *ObjectACLEntry) error {
	permissionsJSON, err := json.Marshal(entry.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO object_acls (object_type, object_id, principal_type, principal_id, permissions,
		                         inherit_from_parent, propagate_to_children, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		entry.ObjectType,
		entry.ObjectID,
		entry.PrincipalType,
		entry.PrincipalID,
		string(permissionsJSON),
		entry.InheritFromParent,
		entry.PropagateToChildren,
		entry.CreatedBy,
		now,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create object acl: %w", err)
	}

	entry.CreatedAt = now
	return nil
}

// DeleteObjectACLs removes every ACL entry for an object.
func (s *PostgresStore) DeleteObjectACLs(ctx context.Context, objectType, objectID string) error {
	query := `DELETE FROM object_acls WHERE object_type = $1 AND object_id = $2`
	if _, err := s.db.ExecContext(ctx, query, objectType, objectID); err != nil {
		return fmt.Errorf("failed to delete object acls: %w", err)
	}
	return nil
}

func (s *PostgresStore) systemRoleExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM system_roles WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check system role existence: %w", err)
	}
	return exists, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSystemRole(sc scanner) (*SystemRole, error) {
	var role SystemRole
	var capabilitiesJSON []byte

	err := sc.Scan(
		&role.ID,
		&role.Code,
		&role.Name,
		&role.Description,
		&role.IsSystem,
		&capabilitiesJSON,
		&role.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(capabilitiesJSON) > 0 {
		if err := json.Unmarshal(capabilitiesJSON, &role.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if role.Capabilities == nil {
		role.Capabilities = map[string]bool{}
	}

	return &role, nil
}

func scanWorkspaceRole(sc scanner) (*WorkspaceRole, error) {
	var role WorkspaceRole
	var workspaceID sql.NullInt64
	var bucketsJSON []byte

	err := sc.Scan(
		&role.ID,
		&workspaceID,
		&role.Code,
		&role.Name,
		&role.Description,
		&role.Priority,
		&role.IsDefault,
		&role.IsSystem,
		&bucketsJSON,
		&role.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if workspaceID.Valid {
		id := workspaceID.Int64
		role.WorkspaceID = &id
	}

	if len(bucketsJSON) > 0 {
		if err := json.Unmarshal(bucketsJSON, &role.Buckets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal buckets: %w", err)
		}
	}
	if role.Buckets == nil {
		role.Buckets = map[string]BucketLevel{}
	}

	return &role, nil
}

func scanOverride(sc scanner) (*PermissionOverride, error) {
	var o PermissionOverride
	var createdBy, updatedBy sql.NullInt64

	err := sc.Scan(
		&o.ID,
		&o.WorkspaceID,
		&o.UserID,
		&o.Module,
		&o.Action,
		&o.Effect,
		&createdBy,
		&updatedBy,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if createdBy.Valid {
		id := createdBy.Int64
		o.CreatedBy = &id
	}
	if updatedBy.Valid {
		id := updatedBy.Int64
		o.UpdatedBy = &id
	}

	return &o, nil
}

func scanObjectACL(sc scanner) (*ObjectACLEntry, error) {
	var entry ObjectACLEntry
	var permissionsJSON []byte
	var createdBy sql.NullInt64

	err := sc.Scan(
		&entry.ID,
		&entry.ObjectType,
		&entry.ObjectID,
		&entry.PrincipalType,
		&entry.PrincipalID,
		&permissionsJSON,
		&entry.InheritFromParent,
		&entry.PropagateToChildren,
		&createdBy,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if createdBy.Valid {
		id := createdBy.Int64
		entry.CreatedBy = &id
	}

	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &entry.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if entry.Permissions == nil {
		entry.Permissions = map[string]bool{}
	}

	return &entry, nil
}
