package authz

import (
	"context"
	"strings"
)

// GetModuleCapabilities returns the baseline capability set a user
// holds in a module, before overrides. Resolution order: system admin
// gets everything; a structured role row yields its explicit module
// row, else the tier default; a workspace without structured roles
// falls back to the user's legacy flat permissions. The two sources
// are never combined in one decision.
func (e *Engine) GetModuleCapabilities(ctx context.Context, user User, workspaceID *int64, module string) (ModuleCapabilities, error) {
	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return ModuleCapabilities{}, err
	}
	if admin {
		return defaultModuleCapabilities(TierAdmin), nil
	}

	if workspaceID == nil {
		return ModuleCapabilities{}, nil
	}

	roleCode, err := e.WorkspaceRoleCode(ctx, user.ID, *workspaceID)
	if err != nil {
		return ModuleCapabilities{}, err
	}
	if roleCode == "" {
		return ModuleCapabilities{}, nil
	}

	role, err := e.resolveWorkspaceRole(ctx, *workspaceID, roleCode)
	if err != nil {
		return ModuleCapabilities{}, err
	}
	if role == nil {
		sections, err := e.store.GetLegacySectionPermissions(ctx, user.ID)
		if err != nil {
			return ModuleCapabilities{}, err
		}
		return legacyModuleCapabilities(sections, module), nil
	}

	explicit, err := e.store.GetModuleCapabilities(ctx, role.ID, strings.ToLower(module))
	if err != nil {
		return ModuleCapabilities{}, err
	}
	if explicit != nil {
		return *explicit, nil
	}
	return defaultModuleCapabilities(memberTier(roleCode, role)), nil
}

// GetEffectiveModuleCapabilities returns the baseline merged with the
// user's overrides for the module. Agrees per-action with
// CheckWorkspaceModuleAction.
func (e *Engine) GetEffectiveModuleCapabilities(ctx context.Context, user User, workspaceID *int64, module string) (ModuleCapabilities, error) {
	caps, err := e.GetModuleCapabilities(ctx, user, workspaceID, module)
	if err != nil {
		return ModuleCapabilities{}, err
	}
	if workspaceID == nil {
		return caps, nil
	}

	overrides, err := e.userOverrides(ctx, *workspaceID, user.ID, module)
	if err != nil {
		return ModuleCapabilities{}, err
	}
	return caps.Apply(overrides), nil
}

// CheckModuleScope reports whether the user's capability scope in a
// module covers a record owned by ownerID. Workspace scope covers
// everything; own scope requires ownership. Team scope behaves as own
// until team membership lands.
func (e *Engine) CheckModuleScope(ctx context.Context, user User, workspaceID *int64, module string, ownerID int64) (bool, error) {
	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}

	caps, err := e.GetModuleCapabilities(ctx, user, workspaceID, module)
	if err != nil {
		return false, err
	}

	switch caps.Scope {
	case ScopeWorkspace:
		return true, nil
	case ScopeOwn, ScopeTeam, "":
		return user.ID == ownerID, nil
	}
	return false, nil
}
