// Package api provides the operator HTTP surface for the Gatehouse
// authorization service.
//
// # Overview
//
// Gatehouse itself is consumed as a library by the platform's domain
// services; this package exposes the small REST surface operators and
// admin collaborators need around the engine: dry-run decision checks,
// permission introspection, cache invalidation, and read access to the
// audit trail. It never exposes mutation of roles, overrides, or flags;
// the admin services own those writes and call POST /v1/cache/clear
// afterwards.
//
// # Endpoints
//
//   - POST /v1/access/check        dry-run a decision (audit off by default)
//   - GET  /v1/permissions/effective  full permission report for a user
//   - POST /v1/cache/clear         invalidate decision caches
//   - GET  /v1/audit/events        search the audit trail (json/csv/ndjson)
//   - GET  /v1/audit/stats         aggregate audit counters
//   - GET  /health, /health/live, /health/ready
//   - GET  /metrics                Prometheus registry
//
// The decision endpoints are gated behind GLOBAL_WORKSPACE_MANAGER (which
// admits system admins); cache invalidation and the audit trail require
// SYSTEM_ADMIN. Health and metrics are unauthenticated.
//
// # Authentication
//
// The service runs behind the platform's authenticating proxy, which
// forwards the caller's identity in X-Gatehouse-User-Id and
// X-Gatehouse-User-Email headers. The principal middleware turns those
// into the request principal the authz guards evaluate.
//
// # Usage
//
//	server, err := api.NewServer(api.ServerConfig{
//		Engine: engine,
//		Audit:  auditLogger,
//		Events: auditLogger,
//		Logger: logger,
//	})
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/authz: the decision engine and HTTP guard middleware
//   - pkg/audit: the audit trail this surface reads
//   - pkg/observability: logging, metrics, health checks
package api
