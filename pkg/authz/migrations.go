package authz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/casagrid/gatehouse/pkg/observability"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the engine's schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create system_roles and platform_role_assignments tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_roles (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(50) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					capabilities JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS platform_role_assignments (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					system_role_id BIGINT NOT NULL REFERENCES system_roles(id) ON DELETE CASCADE,
					assigned_by BIGINT,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, system_role_id)
				);

				CREATE INDEX idx_platform_role_assignments_user_id ON platform_role_assignments(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create workspace_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_memberships (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL,
					role_code VARCHAR(50) NOT NULL,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (workspace_id, user_id)
				);

				CREATE INDEX idx_workspace_memberships_user_id ON workspace_memberships(user_id);
				CREATE INDEX idx_workspace_memberships_workspace_id ON workspace_memberships(workspace_id);
			`,
		},
		{
			Version:     3,
			Description: "Create workspace_roles and module_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_roles (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT,
					code VARCHAR(50) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					priority INT NOT NULL DEFAULT 0,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					buckets JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX ux_workspace_roles_scoped ON workspace_roles(workspace_id, code) WHERE workspace_id IS NOT NULL;
				CREATE UNIQUE INDEX ux_workspace_roles_template ON workspace_roles(code) WHERE workspace_id IS NULL;
				CREATE INDEX idx_workspace_roles_code ON workspace_roles(code);

				CREATE TABLE IF NOT EXISTS module_permissions (
					id BIGSERIAL PRIMARY KEY,
					workspace_role_id BIGINT NOT NULL REFERENCES workspace_roles(id) ON DELETE CASCADE,
					module VARCHAR(50) NOT NULL,
					capabilities JSONB NOT NULL DEFAULT '{}',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (workspace_role_id, module)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create permission_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_overrides (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL,
					module VARCHAR(50) NOT NULL,
					action VARCHAR(50) NOT NULL,
					effect VARCHAR(10) NOT NULL,
					created_by BIGINT,
					updated_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (workspace_id, user_id, module, action)
				);

				CREATE INDEX idx_permission_overrides_user ON permission_overrides(workspace_id, user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create object_acls table",
			SQL: `
				CREATE TABLE IF NOT EXISTS object_acls (
					id BIGSERIAL PRIMARY KEY,
					object_type VARCHAR(50) NOT NULL,
					object_id VARCHAR(255) NOT NULL,
					principal_type VARCHAR(20) NOT NULL,
					principal_id BIGINT NOT NULL,
					permissions JSONB NOT NULL DEFAULT '{}',
					inherit_from_parent BOOLEAN NOT NULL DEFAULT TRUE,
					propagate_to_children BOOLEAN NOT NULL DEFAULT TRUE,
					created_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_object_acls_object ON object_acls(object_type, object_id);
				CREATE INDEX idx_object_acls_principal ON object_acls(principal_type, principal_id);
			`,
		},
		{
			Version:     6,
			Description: "Create feature_flags table",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_flags (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(100) NOT NULL,
					scope VARCHAR(20) NOT NULL DEFAULT 'global',
					scope_id BIGINT,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					description TEXT,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX ux_feature_flags_scoped ON feature_flags(code, scope, scope_id) WHERE scope_id IS NOT NULL;
				CREATE UNIQUE INDEX ux_feature_flags_global ON feature_flags(code, scope) WHERE scope_id IS NULL;
				CREATE INDEX idx_feature_flags_code ON feature_flags(code);
			`,
		},
		{
			Version:     7,
			Description: "Create legacy_section_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS legacy_section_permissions (
					user_id BIGINT PRIMARY KEY,
					permissions JSONB NOT NULL DEFAULT '{}',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

// RunMigrations applies all pending engine migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatehouse_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM gatehouse_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gatehouse_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SeedBuiltinRoles upserts the built-in platform roles and workspace
// role templates. Safe to run on every startup.
func SeedBuiltinRoles(ctx context.Context, store *PostgresStore, logger *observability.Logger) error {
	for _, role := range BuiltinSystemRoles() {
		r := role
		if err := store.UpsertSystemRole(ctx, &r); err != nil {
			return fmt.Errorf("failed to seed system role %s: %w", role.Code, err)
		}
		logger.WithField("code", role.Code).Debug("seeded system role")
	}

	for _, role := range BuiltinWorkspaceRoles() {
		r := role
		if err := store.UpsertWorkspaceRole(ctx, &r); err != nil {
			return fmt.Errorf("failed to seed workspace role %s: %w", role.Code, err)
		}
		logger.WithField("code", role.Code).Debug("seeded workspace role template")
	}

	return nil
}
