package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// ServerConfig wires the server's collaborators. Engine is required;
// everything else degrades gracefully when absent.
type ServerConfig struct {
	// Engine evaluates decisions and backs the route guards.
	Engine *authz.Engine

	// Audit serves /v1/audit/*. Nil leaves those routes unregistered.
	Audit AuditReader

	// Events receives operator events (cache clears). Nil means no-op.
	Events audit.Logger

	// Health backs /health* when set.
	Health *observability.HealthChecker

	// Metrics instruments requests when set; MetricsHandler serves
	// /metrics when set.
	Metrics        *observability.Metrics
	MetricsHandler http.Handler

	Logger *observability.Logger

	// TraceHTTP wraps the router in otelhttp spans.
	TraceHTTP bool
}

// Server is the operator HTTP surface. It implements http.Handler.
type Server struct {
	engine         *authz.Engine
	guard          *authz.Middleware
	audit          AuditReader
	events         audit.Logger
	logger         *observability.Logger
	health         *observability.HealthChecker
	metricsHandler http.Handler

	router  *mux.Router
	handler http.Handler
}

// NewServer creates the API server and its middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}

	events := cfg.Events
	if events == nil {
		events = audit.NewNopLogger()
	}

	s := &Server{
		engine:         cfg.Engine,
		guard:          authz.NewMiddleware(cfg.Engine),
		audit:          cfg.Audit,
		events:         events,
		logger:         logger,
		health:         cfg.Health,
		metricsHandler: cfg.MetricsHandler,
		router:         mux.NewRouter(),
	}
	s.setupRoutes()

	// Panic recovery -> request id -> tracing -> metrics -> principal.
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(logger),
		requestIDMiddleware,
	}
	if cfg.TraceHTTP {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "gatehouse.api")
		})
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	middlewares = append(middlewares, principalMiddleware)

	s.handler = chain(s.router, middlewares...)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Dry-run and introspection admit workspace managers; the manager
	// guard also admits system admins. Cache invalidation and the
	// audit trail are admin-only.
	managerGate := s.guard.RequireSystemRole(authz.SystemRoleWorkspaceManager)
	adminGate := s.guard.RequireSystemAdmin()

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Handle("/access/check", managerGate(http.HandlerFunc(s.checkAccess))).Methods(http.MethodPost)
	v1.Handle("/permissions/effective", managerGate(http.HandlerFunc(s.effectivePermissions))).Methods(http.MethodGet)
	v1.Handle("/cache/clear", adminGate(http.HandlerFunc(s.clearCache))).Methods(http.MethodPost)

	if s.audit != nil {
		v1.Handle("/audit/events", adminGate(http.HandlerFunc(s.auditEvents))).Methods(http.MethodGet)
		v1.Handle("/audit/stats", adminGate(http.HandlerFunc(s.auditStats))).Methods(http.MethodGet)
	}

	if s.health != nil {
		s.router.HandleFunc("/health", s.health.Readiness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/live", s.health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.health.Readiness).Methods(http.MethodGet)
	}

	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
