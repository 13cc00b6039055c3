package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/casagrid/gatehouse/pkg/audit"
)

// userOverrides returns the user's override map for a module, cached,
// keyed by canonical action name. When two stored rows collide after
// alias folding, deny wins.
func (e *Engine) userOverrides(ctx context.Context, workspaceID, userID int64, module string) (map[string]Effect, error) {
	module = strings.ToLower(strings.TrimSpace(module))

	key := cacheKey{Kind: kindOverrides, UserID: userID, WorkspaceID: workspaceID, Module: module}
	if e.overrideCache != nil {
		if v, ok := e.overrideCache.Get(key); ok {
			e.cacheHit(ctx, "overrides")
			return v, nil
		}
		e.cacheMiss(ctx, "overrides")
	}

	raw, err := e.store.GetUserOverrides(ctx, workspaceID, userID, module)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]Effect, len(raw))
	for action, effect := range raw {
		canonical := NormalizeAction(action)
		if existing, ok := overrides[canonical]; ok && existing == EffectDeny {
			continue
		}
		overrides[canonical] = effect
	}

	if e.overrideCache != nil {
		e.overrideCache.Add(key, overrides)
	}
	return overrides, nil
}

// GetUserOverrides returns the user's overrides for a module keyed by
// canonical action name.
func (e *Engine) GetUserOverrides(ctx context.Context, workspaceID, userID int64, module string) (map[string]Effect, error) {
	return e.userOverrides(ctx, workspaceID, userID, module)
}

// ListUserOverrides returns every override row for a user in a
// workspace, for admin views.
func (e *Engine) ListUserOverrides(ctx context.Context, workspaceID, userID int64) ([]PermissionOverride, error) {
	return e.store.ListUserOverrides(ctx, workspaceID, userID)
}

// CheckWorkspaceModuleAction reports whether the user may perform an
// action in a module. Overrides decide first: a deny row always loses
// the action, an allow row always wins it, and only absence falls back
// to the baseline capability. Does not audit-log; UI conditionals call
// this directly.
func (e *Engine) CheckWorkspaceModuleAction(ctx context.Context, user User, workspaceID int64, module, action string) (bool, error) {
	allowed, _, err := e.moduleDecision(ctx, user, &workspaceID, module, action)
	return allowed, err
}

// moduleDecision evaluates the module layer and reports whether an
// override, rather than the baseline, decided the outcome.
func (e *Engine) moduleDecision(ctx context.Context, user User, workspaceID *int64, module, action string) (allowed, viaOverride bool, err error) {
	canonical := NormalizeAction(action)

	if workspaceID != nil {
		overrides, err := e.userOverrides(ctx, *workspaceID, user.ID, module)
		if err != nil {
			return false, false, err
		}
		if effect, ok := overrides[canonical]; ok {
			return effect == EffectAllow, true, nil
		}
	}

	caps, err := e.GetModuleCapabilities(ctx, user, workspaceID, module)
	if err != nil {
		return false, false, err
	}
	return caps.Can(canonical), false, nil
}

// ReplaceUserOverrides atomically replaces the user's override set for
// a workspace, invalidates their cached lookups, and records an
// operator audit event. Inputs are normalized before storage so reads
// and writes agree on action names; duplicate rows collapse with deny
// winning.
func (e *Engine) ReplaceUserOverrides(ctx context.Context, workspaceID, userID int64, rows []OverrideInput, actorID *int64) ([]PermissionOverride, error) {
	normalized, err := normalizeOverrideInputs(rows)
	if err != nil {
		return nil, err
	}

	inserted, err := e.store.ReplaceUserOverrides(ctx, workspaceID, userID, normalized, actorID)
	if err != nil {
		return nil, err
	}

	e.ClearCache(&userID, &workspaceID)

	event := audit.NewOperatorEvent(ctx, audit.EventTypeOverrideReplace, actorID, audit.ResultSuccess,
		fmt.Sprintf("replaced override set with %d rows", len(inserted)))
	event.WorkspaceID = &workspaceID
	event.Details["target_user_id"] = userID
	event.Details["override_count"] = len(inserted)
	e.logOperator(ctx, event)

	return inserted, nil
}

// normalizeOverrideInputs folds module and action names to their
// canonical forms, rejects malformed rows, and collapses duplicates
// with deny winning.
func normalizeOverrideInputs(rows []OverrideInput) ([]OverrideInput, error) {
	type rowKey struct{ module, action string }

	index := make(map[rowKey]int, len(rows))
	out := make([]OverrideInput, 0, len(rows))
	for _, row := range rows {
		module := strings.ToLower(strings.TrimSpace(row.Module))
		action := NormalizeAction(row.Action)
		if module == "" || action == "" {
			return nil, fmt.Errorf("override requires module and action")
		}
		if row.Effect != EffectAllow && row.Effect != EffectDeny {
			return nil, fmt.Errorf("invalid override effect: %q", row.Effect)
		}

		key := rowKey{module, action}
		if i, ok := index[key]; ok {
			if row.Effect == EffectDeny {
				out[i].Effect = EffectDeny
			}
			continue
		}
		index[key] = len(out)
		out = append(out, OverrideInput{Module: module, Action: action, Effect: row.Effect})
	}

	return out, nil
}
