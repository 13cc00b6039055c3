package authz

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// contextKey is the type for context keys
type contextKey string

// principalKey is the context key for the authenticated user
const principalKey contextKey = "authz_principal"

// WithPrincipal returns a context carrying the authenticated user.
// Whatever authenticates the request (gateway middleware, a test) sets
// this before the guards run.
func WithPrincipal(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, principalKey, user)
}

// PrincipalFromContext retrieves the authenticated user from context.
func PrincipalFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(principalKey).(User)
	return user, ok
}

// Middleware guards HTTP routes with engine decisions. Denials go
// through CheckAccess, so they land in the audit trail like any other
// decision.
type Middleware struct {
	engine *Engine
}

// NewMiddleware creates route guards backed by the given engine.
func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{engine: engine}
}

type guardOptions struct {
	module        string
	workspaceVar  string
	resourceType  string
	resourceIDVar string
}

// GuardOption configures how a guard builds its access request from the
// route.
type GuardOption func(*guardOptions)

// WithModule checks the action against a module's capabilities.
func WithModule(module string) GuardOption {
	return func(o *guardOptions) { o.module = module }
}

// WithWorkspaceVar names the mux route variable carrying the workspace
// id. Defaults to "workspace_id"; a route without the variable checks
// without workspace context.
func WithWorkspaceVar(name string) GuardOption {
	return func(o *guardOptions) { o.workspaceVar = name }
}

// WithResource adds an object coordinate to the check, reading the
// object id from the named mux route variable.
func WithResource(resourceType, idVar string) GuardOption {
	return func(o *guardOptions) {
		o.resourceType = resourceType
		o.resourceIDVar = idVar
	}
}

// RequirePermission creates middleware that runs a full access check
// for the action before the handler.
func (m *Middleware) RequirePermission(action string, opts ...GuardOption) func(http.Handler) http.Handler {
	options := guardOptions{workspaceVar: "workspace_id"}
	for _, opt := range opts {
		opt(&options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			vars := mux.Vars(r)

			req := AccessRequest{
				User:   user,
				Action: action,
				Module: options.module,
			}

			if raw, ok := vars[options.workspaceVar]; ok {
				workspaceID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					http.Error(w, "Invalid workspace id", http.StatusBadRequest)
					return
				}
				req.WorkspaceID = &workspaceID
			}

			if options.resourceType != "" {
				req.ResourceType = options.resourceType
				req.ResourceID = vars[options.resourceIDVar]
			}

			allowed, err := m.engine.CheckAccess(r.Context(), req)
			if err != nil {
				http.Error(w, "Permission check failed", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSystemAdmin creates middleware that admits only system
// administrators.
func (m *Middleware) RequireSystemAdmin() func(http.Handler) http.Handler {
	return m.RequireSystemRole(SystemRoleAdmin)
}

// RequireSystemRole creates middleware that requires a platform role.
// GLOBAL_WORKSPACE_MANAGER admits system administrators as well.
func (m *Middleware) RequireSystemRole(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			var held bool
			var err error
			switch code {
			case SystemRoleAdmin:
				held, err = m.engine.IsSystemAdmin(r.Context(), user)
			case SystemRoleWorkspaceManager:
				held, err = m.engine.IsGlobalWorkspaceManager(r.Context(), user)
			default:
				held, err = m.engine.store.HasSystemRole(r.Context(), user.ID, code)
			}
			if err != nil {
				http.Error(w, "Permission check failed", http.StatusInternalServerError)
				return
			}
			if !held {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireWorkspaceRole creates middleware that requires a workspace
// membership at or above the tier of minRole. System administrators
// pass without membership. An unknown role code admits nobody.
func (m *Middleware) RequireWorkspaceRole(minRole string, opts ...GuardOption) func(http.Handler) http.Handler {
	options := guardOptions{workspaceVar: "workspace_id"}
	for _, opt := range opts {
		opt(&options)
	}
	minTier := RoleTier(minRole)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			raw, ok := mux.Vars(r)[options.workspaceVar]
			if !ok {
				http.Error(w, "Workspace id required", http.StatusBadRequest)
				return
			}
			workspaceID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "Invalid workspace id", http.StatusBadRequest)
				return
			}

			admin, err := m.engine.IsSystemAdmin(r.Context(), user)
			if err != nil {
				http.Error(w, "Permission check failed", http.StatusInternalServerError)
				return
			}
			if !admin {
				roleCode, err := m.engine.WorkspaceRoleCode(r.Context(), user.ID, workspaceID)
				if err != nil {
					http.Error(w, "Permission check failed", http.StatusInternalServerError)
					return
				}
				if minTier == TierNone || roleCode == "" || RoleTier(roleCode) < minTier {
					http.Error(w, "Insufficient permissions", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
