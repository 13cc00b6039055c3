package authz

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz/cache"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// Decision layer identifiers, recorded on audit entries and metrics.
const (
	layerFlagGate        = "flag_gate"
	layerSystemRole      = "system_role"
	layerPlatformRole    = "platform_role"
	layerMembership      = "membership"
	layerWorkspaceBucket = "workspace_bucket"
	layerModule          = "module_rbac"
	layerOverride        = "override"
	layerObjectACL       = "object_acl"
	layerDefault         = "default"
)

// cacheKind discriminates what a cache entry holds. Keys are structured
// so invalidation is a typed match on coordinates, never a string scan.
type cacheKind uint8

const (
	kindSystemAdmin cacheKind = iota + 1
	kindGlobalManager
	kindWorkspaceRole
	kindOverrides
)

type cacheKey struct {
	Kind        cacheKind
	UserID      int64
	WorkspaceID int64
	Module      string
}

// Config wires an Engine. Store is required; everything else has a
// working default.
type Config struct {
	Store       Store
	Flags       *FlagGate
	AuditLogger audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTel        *observability.OTelMetrics

	// Decision cache sizing. Disabled caches cost one store round trip
	// per layer per decision.
	CacheEnabled    bool
	CacheMaxEntries int
	CacheTTL        time.Duration
}

// Engine evaluates access decisions across the five permission layers:
// platform roles, workspace buckets, module capabilities, per-user
// overrides, and object ACLs, gated by feature flags and recorded in
// the audit trail.
type Engine struct {
	store   Store
	flags   *FlagGate
	audit   audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics

	boolCache     *cache.Cache[cacheKey, bool]
	roleCache     *cache.Cache[cacheKey, string]
	overrideCache *cache.Cache[cacheKey, map[string]Effect]
}

// NewEngine creates an engine from the given configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	flags := cfg.Flags
	if flags == nil {
		flags = NewFlagGate(cfg.Store, "", "")
	}

	auditLogger := cfg.AuditLogger
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}

	e := &Engine{
		store:   cfg.Store,
		flags:   flags,
		audit:   auditLogger,
		logger:  logger,
		metrics: cfg.Metrics,
		otel:    cfg.OTel,
	}

	if cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		if cfg.CacheMaxEntries > 0 {
			cacheCfg.MaxEntries = cfg.CacheMaxEntries
		}
		if cfg.CacheTTL > 0 {
			cacheCfg.TTL = cfg.CacheTTL
		}
		e.boolCache = cache.New[cacheKey, bool](cacheCfg)
		e.roleCache = cache.New[cacheKey, string](cacheCfg)
		e.overrideCache = cache.New[cacheKey, map[string]Effect](cacheCfg)
	}

	return e, nil
}

// decision is the internal outcome of one evaluation pass.
type decision struct {
	allowed bool
	layer   string
	reason  string
}

// CheckAccess evaluates an access request through every applicable
// layer. Unless req.SkipAudit is set, exactly one audit entry is
// written per call: audit_only when enforcement is off and audit mode
// on, otherwise allowed or denied matching the returned verdict. Store
// failures propagate as errors and the caller must treat them as a
// denial.
func (e *Engine) CheckAccess(ctx context.Context, req AccessRequest) (bool, error) {
	start := time.Now()

	enforcement, err := e.flags.IsEnforcementEnabled(ctx, req.WorkspaceID)
	if err != nil {
		e.recordDecisionError(layerFlagGate)
		return false, err
	}
	if !enforcement {
		result := audit.ResultAllowed
		if !req.SkipAudit {
			auditMode, err := e.flags.IsAuditModeEnabled(ctx, req.WorkspaceID)
			if err != nil {
				e.recordDecisionError(layerFlagGate)
				return false, err
			}
			if auditMode {
				result = audit.ResultAuditOnly
				e.writeAudit(ctx, req, audit.ResultAuditOnly, layerFlagGate, "permission enforcement disabled, audit mode active")
			}
		}
		e.recordDecision(ctx, string(result), layerFlagGate, start)
		return true, nil
	}

	d, err := e.decide(ctx, req)
	if err != nil {
		e.recordDecisionError(d.layer)
		return false, err
	}

	result := audit.ResultDenied
	if d.allowed {
		result = audit.ResultAllowed
	}
	if !req.SkipAudit {
		e.writeAudit(ctx, req, result, d.layer, d.reason)
	}
	e.recordDecision(ctx, string(result), d.layer, start)

	return d.allowed, nil
}

// decide runs the layered evaluation. On error the returned decision
// carries the layer that failed so the error can be attributed.
func (e *Engine) decide(ctx context.Context, req AccessRequest) (decision, error) {
	user := req.User
	action := strings.ToLower(strings.TrimSpace(req.Action))

	// System administrators bypass every other layer.
	sysAdmin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return decision{layer: layerSystemRole}, err
	}
	if sysAdmin {
		return decision{allowed: true, layer: layerSystemRole, reason: "system administrator"}, nil
	}

	// System-level actions need an explicit platform capability. A
	// miss falls through to the workspace layers instead of denying,
	// so a workspace admin can still manage_members without holding a
	// platform role.
	if req.ResourceType == "system" || strings.HasPrefix(action, "manage_") {
		ok, err := e.HasSystemCapability(ctx, user, action)
		if err != nil {
			return decision{layer: layerSystemRole}, err
		}
		if ok {
			return decision{allowed: true, layer: layerSystemRole, reason: fmt.Sprintf("system capability %s", action)}, nil
		}
	}

	// Workspace membership and bucket tier.
	if req.WorkspaceID != nil {
		workspaceID := *req.WorkspaceID

		roleCode, err := e.WorkspaceRoleCode(ctx, user.ID, workspaceID)
		if err != nil {
			return decision{layer: layerMembership}, err
		}

		if roleCode == "" {
			manager, err := e.IsGlobalWorkspaceManager(ctx, user)
			if err != nil {
				return decision{layer: layerMembership}, err
			}
			if manager && globalManagerActions[action] {
				return decision{allowed: true, layer: layerPlatformRole, reason: "global workspace manager"}, nil
			}
			return decision{layer: layerMembership, reason: "not a workspace member"}, nil
		}

		if bucketAction := bucketActionFor(action); bucketAction != "" {
			verdict, err := e.workspaceVerdict(ctx, workspaceID, roleCode, bucketAction)
			if err != nil {
				return decision{layer: layerWorkspaceBucket}, err
			}
			if !verdict.Allowed {
				return decision{
					layer:  layerWorkspaceBucket,
					reason: fmt.Sprintf("action %s requires bucket %s", bucketAction, verdict.Bucket),
				}, nil
			}
		}
	}

	// Module capabilities merged with per-user overrides.
	if req.Module != "" {
		allowed, viaOverride, err := e.moduleDecision(ctx, user, req.WorkspaceID, req.Module, action)
		if err != nil {
			return decision{layer: layerModule}, err
		}
		if !allowed {
			layer := layerModule
			if viaOverride {
				layer = layerOverride
			}
			return decision{
				layer:  layer,
				reason: fmt.Sprintf("module %s denies %s", strings.ToLower(req.Module), NormalizeAction(action)),
			}, nil
		}
	}

	// Object ACLs narrow access; they never extend it. An absent grant
	// defers to the module verdict when a module was checked.
	if req.ResourceType != "" && req.ResourceID != "" {
		ok, err := e.CheckObjectAccess(ctx, user, req.ResourceType, req.ResourceID, action)
		if err != nil {
			return decision{layer: layerObjectACL}, err
		}
		if !ok {
			if req.Module != "" {
				return decision{allowed: true, layer: layerModule, reason: "module capability stands, no object grant"}, nil
			}
			return decision{layer: layerObjectACL, reason: "no object grant"}, nil
		}
	}

	return decision{allowed: true, layer: layerDefault, reason: "no layer denied"}, nil
}

// ClearCache drops cached lookups matching the given coordinates. Both
// nil clears everything; a user filter also drops the user's platform
// role entries, a workspace filter drops entries for that workspace
// only. Returns the number of entries removed.
func (e *Engine) ClearCache(userID, workspaceID *int64) int {
	if e.boolCache == nil {
		return 0
	}

	if userID == nil && workspaceID == nil {
		removed := e.boolCache.Len() + e.roleCache.Len() + e.overrideCache.Len()
		e.boolCache.Purge()
		e.roleCache.Purge()
		e.overrideCache.Purge()
		return removed
	}

	match := func(k cacheKey) bool {
		if userID != nil && k.UserID != *userID {
			return false
		}
		if workspaceID != nil && k.WorkspaceID != *workspaceID {
			return false
		}
		return true
	}

	removed := e.boolCache.RemoveMatching(match)
	removed += e.roleCache.RemoveMatching(match)
	removed += e.overrideCache.RemoveMatching(match)
	return removed
}

// Flags exposes the engine's flag gate.
func (e *Engine) Flags() *FlagGate {
	return e.flags
}

func (e *Engine) writeAudit(ctx context.Context, req AccessRequest, result audit.Result, layer, reason string) {
	event := audit.NewDecisionEvent(ctx,
		req.User.ID, req.User.Email,
		req.Action, req.ResourceType, req.ResourceID,
		req.WorkspaceID, req.Module,
		result, layer, reason,
	)
	err := e.audit.Log(ctx, event)
	if err != nil {
		// A failed audit write never fails the decision; it is logged
		// and counted instead.
		e.logger.WithError(err).Warn("failed to write audit event")
	}
	e.recordAuditWrite(ctx, err)
}

// logOperator writes an operator event (override replace, cache clear)
// with the same swallow-and-count behavior as decision entries.
func (e *Engine) logOperator(ctx context.Context, event *audit.Event) {
	err := e.audit.Log(ctx, event)
	if err != nil {
		e.logger.WithError(err).Warn("failed to write audit event")
	}
	e.recordAuditWrite(ctx, err)
}

func (e *Engine) recordDecision(ctx context.Context, result, layer string, start time.Time) {
	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.DecisionsTotal.WithLabelValues(result, layer).Inc()
		e.metrics.DecisionDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
	if e.otel != nil {
		e.otel.RecordDecision(ctx, result, layer, duration)
	}
}

func (e *Engine) recordDecisionError(layer string) {
	if e.metrics != nil {
		e.metrics.DecisionErrors.WithLabelValues(layer).Inc()
	}
}

func (e *Engine) recordAuditWrite(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.AuditWritesTotal.WithLabelValues(status).Inc()
	}
	if e.otel != nil {
		e.otel.RecordAuditWrite(ctx, err)
	}
}

func (e *Engine) cacheHit(ctx context.Context, name string) {
	if e.metrics != nil {
		e.metrics.CacheHitsTotal.WithLabelValues(name).Inc()
	}
	if e.otel != nil {
		e.otel.RecordCacheHit(ctx, name)
	}
}

func (e *Engine) cacheMiss(ctx context.Context, name string) {
	if e.metrics != nil {
		e.metrics.CacheMissesTotal.WithLabelValues(name).Inc()
	}
	if e.otel != nil {
		e.otel.RecordCacheMiss(ctx, name)
	}
}
