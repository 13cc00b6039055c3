// Package authz is the layered authorization engine for Casagrid.
//
// # Overview
//
// A decision merges five layers with strict precedence: platform roles
// (SYSTEM_ADMIN bypasses everything), workspace role buckets, per-module
// capabilities, per-user allow/deny overrides, and per-object ACLs. A
// feature flag gate in front of the engine controls rollout: with
// enforcement off, every call is allowed, optionally leaving an
// audit_only trail so operators can preview denials before enabling.
//
// # Evaluation Order
//
// CheckAccess walks the layers first-match-wins:
//
//  1. Enforcement flag off: allow (audit_only entry when audit mode is on).
//  2. System administrator: allow.
//  3. System-scoped action with a matching platform capability: allow;
//     without one the check falls through, it never denies here.
//  4. Workspace set: non-members get only the three global-manager
//     actions; members must clear the bucket their role maps the action to.
//  5. Module set: overrides decide first (deny > allow), then the
//     baseline capability.
//  6. Object set: an explicit grant must cover the action, but when a
//     module already allowed the call, a missing grant defers to that
//     result. Object ACLs narrow, never widen.
//  7. Default: allow.
//
// Missing rows are each layer's safe default, never an error. Store
// failures fail the decision closed; audit write failures never fail a
// decision.
//
// # Usage Example
//
//	engine, err := authz.NewEngine(authz.Config{
//		Store:       authz.NewPostgresStore(db),
//		AuditLogger: auditLogger,
//		CacheEnabled: true,
//	})
//	if err != nil {
//		return err
//	}
//
//	allowed, err := engine.CheckAccess(ctx, authz.AccessRequest{
//		User:        authz.User{ID: 42, Email: "agent@casagrid.example"},
//		Action:      "delete",
//		WorkspaceID: &workspaceID,
//		Module:      "listings",
//	})
//
// # Caching
//
// Role booleans, membership role codes, and override maps live in a TTL
// cache keyed by {kind, user, workspace, module}. The engine never
// detects staleness on its own: whatever service mutates roles,
// memberships, module permissions, or overrides must call ClearCache.
//
// # Related Packages
//
//   - pkg/audit: decision and operator event trail
//   - pkg/authz/cache: the generic TTL cache
//   - pkg/api: the ops HTTP surface over the engine
package authz
