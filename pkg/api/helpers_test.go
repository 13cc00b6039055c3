package api

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// fakeStore is an in-memory authz.Store. Fixtures: user 1 is a system
// admin, user 2 a global workspace manager, user 11 a MEMBER of
// workspace 7; the builtin role templates are loaded and enforcement
// is on globally.
type fakeStore struct {
	systemRoles map[int64][]authz.SystemRole
	memberships map[int64]map[int64]*authz.WorkspaceMembership
	roles       []*authz.WorkspaceRole
	moduleCaps  map[string]*authz.ModuleCapabilities
	legacy      map[int64]map[string]map[string]bool
	overrides   map[string]map[string]authz.Effect
	acls        map[string][]authz.ObjectACLEntry
	flags       map[string]*authz.FeatureFlag
}

func newFakeStore() *fakeStore {
	fs := &fakeStore{
		systemRoles: make(map[int64][]authz.SystemRole),
		memberships: make(map[int64]map[int64]*authz.WorkspaceMembership),
		moduleCaps:  make(map[string]*authz.ModuleCapabilities),
		legacy:      make(map[int64]map[string]map[string]bool),
		overrides:   make(map[string]map[string]authz.Effect),
		acls:        make(map[string][]authz.ObjectACLEntry),
		flags:       make(map[string]*authz.FeatureFlag),
	}

	for i, role := range authz.BuiltinSystemRoles() {
		role.ID = int64(i + 1)
		switch role.Code {
		case authz.SystemRoleAdmin:
			fs.systemRoles[1] = []authz.SystemRole{role}
		case authz.SystemRoleWorkspaceManager:
			fs.systemRoles[2] = []authz.SystemRole{role}
		}
	}

	for i, tpl := range authz.BuiltinWorkspaceRoles() {
		role := tpl
		role.ID = int64(i + 1)
		fs.roles = append(fs.roles, &role)
	}

	fs.addMembership(7, 11, "MEMBER")
	fs.setFlag(authz.FlagPermissionEnforcement, authz.FlagScopeGlobal, nil, true)
	return fs
}

func (f *fakeStore) addMembership(workspaceID, userID int64, roleCode string) {
	if f.memberships[workspaceID] == nil {
		f.memberships[workspaceID] = make(map[int64]*authz.WorkspaceMembership)
	}
	f.memberships[workspaceID][userID] = &authz.WorkspaceMembership{
		ID:          int64(len(f.memberships[workspaceID]) + 1),
		WorkspaceID: workspaceID,
		UserID:      userID,
		RoleCode:    roleCode,
		JoinedAt:    time.Now(),
	}
}

func (f *fakeStore) setFlag(code, scope string, scopeID *int64, enabled bool) {
	f.flags[flagKey(code, scope, scopeID)] = &authz.FeatureFlag{
		Code:      code,
		Scope:     scope,
		ScopeID:   scopeID,
		Enabled:   enabled,
		UpdatedAt: time.Now(),
	}
}

func flagKey(code, scope string, scopeID *int64) string {
	if scopeID == nil {
		return fmt.Sprintf("%s/%s/-", code, scope)
	}
	return fmt.Sprintf("%s/%s/%d", code, scope, *scopeID)
}

func (f *fakeStore) GetSystemRoles(_ context.Context, userID int64) ([]authz.SystemRole, error) {
	return f.systemRoles[userID], nil
}

func (f *fakeStore) HasSystemRole(_ context.Context, userID int64, code string) (bool, error) {
	for _, role := range f.systemRoles[userID] {
		if role.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetMembership(_ context.Context, workspaceID, userID int64) (*authz.WorkspaceMembership, error) {
	return f.memberships[workspaceID][userID], nil
}

func (f *fakeStore) FindWorkspaceRole(_ context.Context, workspaceID int64, candidates []string) (*authz.WorkspaceRole, error) {
	for _, scoped := range []bool{true, false} {
		for _, candidate := range candidates {
			for _, role := range f.roles {
				if role.Code != candidate {
					continue
				}
				if scoped && (role.WorkspaceID == nil || *role.WorkspaceID != workspaceID) {
					continue
				}
				if !scoped && role.WorkspaceID != nil {
					continue
				}
				return role, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) GetModuleCapabilities(_ context.Context, roleID int64, module string) (*authz.ModuleCapabilities, error) {
	return f.moduleCaps[fmt.Sprintf("%d/%s", roleID, strings.ToLower(module))], nil
}

func (f *fakeStore) GetLegacySectionPermissions(_ context.Context, userID int64) (map[string]map[string]bool, error) {
	return f.legacy[userID], nil
}

func (f *fakeStore) GetUserOverrides(_ context.Context, workspaceID, userID int64, module string) (map[string]authz.Effect, error) {
	return f.overrides[overrideKey(workspaceID, userID, module)], nil
}

func (f *fakeStore) ListUserOverrides(_ context.Context, workspaceID, userID int64) ([]authz.PermissionOverride, error) {
	prefix := fmt.Sprintf("%d/%d/", workspaceID, userID)
	var rows []authz.PermissionOverride
	for key, actions := range f.overrides {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		module := strings.TrimPrefix(key, prefix)
		for action, effect := range actions {
			rows = append(rows, authz.PermissionOverride{
				WorkspaceID: workspaceID,
				UserID:      userID,
				Module:      module,
				Action:      action,
				Effect:      effect,
			})
		}
	}
	return rows, nil
}

func (f *fakeStore) ReplaceUserOverrides(_ context.Context, workspaceID, userID int64, rows []authz.OverrideInput, actorID *int64) ([]authz.PermissionOverride, error) {
	prefix := fmt.Sprintf("%d/%d/", workspaceID, userID)
	for key := range f.overrides {
		if strings.HasPrefix(key, prefix) {
			delete(f.overrides, key)
		}
	}
	var stored []authz.PermissionOverride
	for i, row := range rows {
		key := overrideKey(workspaceID, userID, row.Module)
		if f.overrides[key] == nil {
			f.overrides[key] = make(map[string]authz.Effect)
		}
		f.overrides[key][row.Action] = row.Effect
		stored = append(stored, authz.PermissionOverride{
			ID:          int64(i + 1),
			WorkspaceID: workspaceID,
			UserID:      userID,
			Module:      row.Module,
			Action:      row.Action,
			Effect:      row.Effect,
			CreatedBy:   actorID,
			UpdatedBy:   actorID,
		})
	}
	return stored, nil
}

func (f *fakeStore) GetObjectACLs(_ context.Context, objectType, objectID string) ([]authz.ObjectACLEntry, error) {
	return f.acls[objectType+"/"+objectID], nil
}

func (f *fakeStore) GetFeatureFlag(_ context.Context, code, scope string, scopeID *int64) (*authz.FeatureFlag, error) {
	return f.flags[flagKey(code, scope, scopeID)], nil
}

func overrideKey(workspaceID, userID int64, module string) string {
	return fmt.Sprintf("%d/%d/%s", workspaceID, userID, strings.ToLower(module))
}

// captureLog records audit events in memory.
type captureLog struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *captureLog) Log(_ context.Context, event *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureLog) Close() error { return nil }

func (c *captureLog) all() []*audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*audit.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureLog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// fakeAuditReader serves canned search results and records the filter
// it was asked for.
type fakeAuditReader struct {
	events     []*audit.Event
	stats      *audit.Stats
	err        error
	lastFilter audit.SearchFilter
}

func (f *fakeAuditReader) Search(_ context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeAuditReader) GetStats(_ context.Context, _, _ *time.Time) (*audit.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

type testServer struct {
	server *Server
	store  *fakeStore
	reader *fakeAuditReader
	events *captureLog
}

func newTestEngine(t *testing.T) (*authz.Engine, *fakeStore, *captureLog) {
	t.Helper()

	store := newFakeStore()
	events := &captureLog{}
	engine, err := authz.NewEngine(authz.Config{
		Store:        store,
		AuditLogger:  events,
		Logger:       quietLogger(),
		CacheEnabled: true,
	})
	require.NoError(t, err)
	return engine, store, events
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	engine, store, events := newTestEngine(t)
	reader := &fakeAuditReader{stats: &audit.Stats{}}
	server, err := NewServer(ServerConfig{
		Engine: engine,
		Audit:  reader,
		Events: events,
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	return &testServer{server: server, store: store, reader: reader, events: events}
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// do runs a request through the full middleware stack as the given
// user. A zero user id sends no identity headers.
func (ts *testServer) do(method, target string, body io.Reader, userID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(userID, 10))
		req.Header.Set(HeaderUserEmail, fmt.Sprintf("user%d@casagrid.test", userID))
	}
	rr := httptest.NewRecorder()
	ts.server.ServeHTTP(rr, req)
	return rr
}
