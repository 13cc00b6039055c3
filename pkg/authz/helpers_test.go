package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// setupTestDB opens an in-memory SQLite database carrying the engine
// schema. SQLite stands in for PostgreSQL in engine-level tests;
// PostgresStore's SQL is covered separately in store_test.go.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE system_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_system BOOLEAN NOT NULL DEFAULT 0,
			capabilities TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE platform_role_assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			system_role_id INTEGER NOT NULL,
			assigned_by INTEGER,
			assigned_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, system_role_id)
		);

		CREATE TABLE workspace_memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role_code TEXT NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			UNIQUE(workspace_id, user_id)
		);

		CREATE TABLE workspace_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id INTEGER,
			code TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			is_default BOOLEAN NOT NULL DEFAULT 0,
			is_system BOOLEAN NOT NULL DEFAULT 0,
			buckets TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE module_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_role_id INTEGER NOT NULL,
			module TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(workspace_role_id, module)
		);

		CREATE TABLE permission_overrides (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			module TEXT NOT NULL,
			action TEXT NOT NULL,
			effect TEXT NOT NULL,
			created_by INTEGER,
			updated_by INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(workspace_id, user_id, module, action)
		);

		CREATE TABLE object_acls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			object_type TEXT NOT NULL,
			object_id TEXT NOT NULL,
			principal_type TEXT NOT NULL,
			principal_id INTEGER NOT NULL,
			permissions TEXT NOT NULL DEFAULT '{}',
			inherit_from_parent BOOLEAN NOT NULL DEFAULT 0,
			propagate_to_children BOOLEAN NOT NULL DEFAULT 0,
			created_by INTEGER,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE feature_flags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			scope TEXT NOT NULL,
			scope_id INTEGER,
			enabled BOOLEAN NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE legacy_section_permissions (
			user_id INTEGER PRIMARY KEY,
			permissions TEXT NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("failed to create test tables: %v", err)
	}

	return db
}

// sqliteStore implements Store over the SQLite test schema with the
// same absence semantics as PostgresStore. Candidate ordering is done
// in Go because SQLite has no array_position.
type sqliteStore struct {
	db *sql.DB
}

var _ Store = (*sqliteStore)(nil)

func (s *sqliteStore) GetSystemRoles(ctx context.Context, userID int64) ([]SystemRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.code, r.name, r.description, r.is_system, r.capabilities, r.created_at
		FROM system_roles r
		JOIN platform_role_assignments a ON a.system_role_id = r.id
		WHERE a.user_id = ?
		ORDER BY r.code ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []SystemRole
	for rows.Next() {
		role, err := scanSystemRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

func (s *sqliteStore) HasSystemRole(ctx context.Context, userID int64, code string) (bool, error) {
	var has bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM platform_role_assignments a
			JOIN system_roles r ON r.id = a.system_role_id
			WHERE a.user_id = ? AND r.code = ?
		)
	`, userID, code).Scan(&has)
	return has, err
}

func (s *sqliteStore) GetMembership(ctx context.Context, workspaceID, userID int64) (*WorkspaceMembership, error) {
	var m WorkspaceMembership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role_code, joined_at
		FROM workspace_memberships
		WHERE workspace_id = ? AND user_id = ?
	`, workspaceID, userID).Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.RoleCode, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *sqliteStore) FindWorkspaceRole(ctx context.Context, workspaceID int64, candidates []string) (*WorkspaceRole, error) {
	const baseSelect = `
		SELECT id, workspace_id, code, name, description, priority, is_default, is_system, buckets, created_at
		FROM workspace_roles
	`

	// Specificity beats candidate order: any workspace row wins over
	// any template.
	for _, code := range candidates {
		role, err := scanWorkspaceRole(s.db.QueryRowContext(ctx,
			baseSelect+`WHERE workspace_id = ? AND code = ?`, workspaceID, code))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		return role, nil
	}

	for _, code := range candidates {
		role, err := scanWorkspaceRole(s.db.QueryRowContext(ctx,
			baseSelect+`WHERE workspace_id IS NULL AND code = ?`, code))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		return role, nil
	}

	return nil, nil
}

func (s *sqliteStore) GetModuleCapabilities(ctx context.Context, roleID int64, module string) (*ModuleCapabilities, error) {
	var capabilitiesJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT capabilities FROM module_permissions
		WHERE workspace_role_id = ? AND module = ?
	`, roleID, strings.ToLower(module)).Scan(&capabilitiesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var caps ModuleCapabilities
	if err := json.Unmarshal(capabilitiesJSON, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

func (s *sqliteStore) GetLegacySectionPermissions(ctx context.Context, userID int64) (map[string]map[string]bool, error) {
	var permissionsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT permissions FROM legacy_section_permissions WHERE user_id = ?
	`, userID).Scan(&permissionsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sections map[string]map[string]bool
	if err := json.Unmarshal(permissionsJSON, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func (s *sqliteStore) GetUserOverrides(ctx context.Context, workspaceID, userID int64, module string) (map[string]Effect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, effect FROM permission_overrides
		WHERE workspace_id = ? AND user_id = ? AND module = ?
	`, workspaceID, userID, strings.ToLower(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]Effect)
	for rows.Next() {
		var action string
		var effect Effect
		if err := rows.Scan(&action, &effect); err != nil {
			return nil, err
		}
		overrides[action] = effect
	}
	return overrides, rows.Err()
}

func (s *sqliteStore) ListUserOverrides(ctx context.Context, workspaceID, userID int64) ([]PermissionOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, module, action, effect, created_by, updated_by, created_at, updated_at
		FROM permission_overrides
		WHERE workspace_id = ? AND user_id = ?
		ORDER BY module ASC, action ASC
	`, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []PermissionOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

func (s *sqliteStore) ReplaceUserOverrides(ctx context.Context, workspaceID, userID int64, rows []OverrideInput, actorID *int64) ([]PermissionOverride, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM permission_overrides WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	inserted := make([]PermissionOverride, 0, len(rows))
	for _, row := range rows {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO permission_overrides (workspace_id, user_id, module, action, effect, created_by, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, workspaceID, userID, row.Module, row.Action, row.Effect, actorID, actorID, now, now)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, PermissionOverride{
			ID:          id,
			WorkspaceID: workspaceID,
			UserID:      userID,
			Module:      row.Module,
			Action:      row.Action,
			Effect:      row.Effect,
			CreatedBy:   actorID,
			UpdatedBy:   actorID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *sqliteStore) GetObjectACLs(ctx context.Context, objectType, objectID string) ([]ObjectACLEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, object_type, object_id, principal_type, principal_id, permissions,
		       inherit_from_parent, propagate_to_children, created_by, created_at
		FROM object_acls
		WHERE object_type = ? AND object_id = ?
		ORDER BY id ASC
	`, objectType, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ObjectACLEntry
	for rows.Next() {
		entry, err := scanObjectACL(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) GetFeatureFlag(ctx context.Context, code, scope string, scopeID *int64) (*FeatureFlag, error) {
	query := `SELECT id, code, scope, scope_id, enabled, description, updated_at FROM feature_flags WHERE code = ? AND scope = ?`
	args := []interface{}{code, scope}
	if scopeID != nil {
		query += ` AND scope_id = ?`
		args = append(args, *scopeID)
	} else {
		query += ` AND scope_id IS NULL`
	}

	var flag FeatureFlag
	var flagScopeID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&flag.ID, &flag.Code, &flag.Scope, &flagScopeID,
		&flag.Enabled, &flag.Description, &flag.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if flagScopeID.Valid {
		id := flagScopeID.Int64
		flag.ScopeID = &id
	}
	return &flag, nil
}

// captureLogger records audit events in memory for assertions.
type captureLogger struct {
	mu       sync.Mutex
	failWith error
	events   []*audit.Event
}

func (l *captureLogger) Log(_ context.Context, event *audit.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	l.events = append(l.events, event)
	return nil
}

func (l *captureLogger) Close() error { return nil }

func (l *captureLogger) all() []*audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*audit.Event(nil), l.events...)
}

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *captureLogger) last() *audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[len(l.events)-1]
}

func (l *captureLogger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// testEnv bundles an engine over SQLite with its capture logger.
type testEnv struct {
	db     *sql.DB
	store  *sqliteStore
	engine *Engine
	audit  *captureLogger
}

func newTestEnv(t *testing.T, cacheEnabled bool) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	store := &sqliteStore{db: db}
	capture := &captureLogger{}

	engine, err := NewEngine(Config{
		Store:        store,
		AuditLogger:  capture,
		Logger:       observability.NewLogger(observability.ErrorLevel, io.Discard),
		CacheEnabled: cacheEnabled,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return &testEnv{db: db, store: store, engine: engine, audit: capture}
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("failed to exec fixture statement: %v", err)
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}
	return string(data)
}

// seedRoleTemplates inserts the builtin global role templates.
func seedRoleTemplates(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, role := range BuiltinWorkspaceRoles() {
		insertWorkspaceRole(t, db, nil, role.Code, role.Priority, role.Buckets)
	}
}

func insertWorkspaceRole(t *testing.T, db *sql.DB, workspaceID *int64, code string, priority int, buckets map[string]BucketLevel) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO workspace_roles (workspace_id, code, name, description, priority, is_default, is_system, buckets, created_at)
		VALUES (?, ?, ?, '', ?, 0, 1, ?, ?)
	`, workspaceID, code, code, priority, mustJSON(t, buckets), time.Now())
	if err != nil {
		t.Fatalf("failed to insert workspace role: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("failed to read role id: %v", err)
	}
	return id
}

// grantSystemRole creates the builtin platform role on first use and
// assigns it to the user.
func grantSystemRole(t *testing.T, db *sql.DB, userID int64, code string) {
	t.Helper()

	caps := map[string]bool{}
	for _, role := range BuiltinSystemRoles() {
		if role.Code == code {
			caps = role.Capabilities
		}
	}

	mustExec(t, db, `
		INSERT OR IGNORE INTO system_roles (code, name, description, is_system, capabilities, created_at)
		VALUES (?, ?, '', 1, ?, ?)
	`, code, code, mustJSON(t, caps), time.Now())

	var roleID int64
	if err := db.QueryRow(`SELECT id FROM system_roles WHERE code = ?`, code).Scan(&roleID); err != nil {
		t.Fatalf("failed to look up system role: %v", err)
	}

	mustExec(t, db, `
		INSERT INTO platform_role_assignments (user_id, system_role_id, assigned_at)
		VALUES (?, ?, ?)
	`, userID, roleID, time.Now())
}

func addMember(t *testing.T, db *sql.DB, workspaceID, userID int64, roleCode string) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role_code, joined_at)
		VALUES (?, ?, ?, ?)
	`, workspaceID, userID, roleCode, time.Now())
}

func setFlag(t *testing.T, db *sql.DB, code, scope string, scopeID *int64, enabled bool) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO feature_flags (code, scope, scope_id, enabled, description, updated_at)
		VALUES (?, ?, ?, ?, '', ?)
	`, code, scope, scopeID, enabled, time.Now())
}

// enableEnforcement switches permission enforcement on globally.
func enableEnforcement(t *testing.T, db *sql.DB) {
	t.Helper()
	setFlag(t, db, FlagPermissionEnforcement, FlagScopeGlobal, nil, true)
}

func setModuleCapabilities(t *testing.T, db *sql.DB, roleID int64, module string, caps ModuleCapabilities) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO module_permissions (workspace_role_id, module, capabilities, updated_at)
		VALUES (?, ?, ?, ?)
	`, roleID, module, mustJSON(t, caps), time.Now())
}

func addOverrideRow(t *testing.T, db *sql.DB, workspaceID, userID int64, module, action string, effect Effect) {
	t.Helper()
	now := time.Now()
	mustExec(t, db, `
		INSERT INTO permission_overrides (workspace_id, user_id, module, action, effect, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, workspaceID, userID, module, action, effect, now, now)
}

func addObjectACL(t *testing.T, db *sql.DB, objectType, objectID string, principalType PrincipalType, principalID int64, perms map[string]bool) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO object_acls (object_type, object_id, principal_type, principal_id, permissions, inherit_from_parent, propagate_to_children, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	`, objectType, objectID, principalType, principalID, mustJSON(t, perms), time.Now())
}

func setLegacySections(t *testing.T, db *sql.DB, userID int64, sections map[string]map[string]bool) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO legacy_section_permissions (user_id, permissions, updated_at)
		VALUES (?, ?, ?)
	`, userID, mustJSON(t, sections), time.Now())
}

func i64(v int64) *int64 { return &v }
