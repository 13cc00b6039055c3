package authz

import (
	"context"
)

// IsSystemAdmin reports whether the user holds the SYSTEM_ADMIN
// platform role.
func (e *Engine) IsSystemAdmin(ctx context.Context, user User) (bool, error) {
	key := cacheKey{Kind: kindSystemAdmin, UserID: user.ID}
	if e.boolCache != nil {
		if v, ok := e.boolCache.Get(key); ok {
			e.cacheHit(ctx, "system_roles")
			return v, nil
		}
		e.cacheMiss(ctx, "system_roles")
	}

	admin, err := e.store.HasSystemRole(ctx, user.ID, SystemRoleAdmin)
	if err != nil {
		return false, err
	}

	if e.boolCache != nil {
		e.boolCache.Add(key, admin)
	}
	return admin, nil
}

// IsGlobalWorkspaceManager reports whether the user may administer
// workspaces platform-wide. System administrators qualify implicitly.
func (e *Engine) IsGlobalWorkspaceManager(ctx context.Context, user User) (bool, error) {
	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}

	key := cacheKey{Kind: kindGlobalManager, UserID: user.ID}
	if e.boolCache != nil {
		if v, ok := e.boolCache.Get(key); ok {
			e.cacheHit(ctx, "system_roles")
			return v, nil
		}
		e.cacheMiss(ctx, "system_roles")
	}

	manager, err := e.store.HasSystemRole(ctx, user.ID, SystemRoleWorkspaceManager)
	if err != nil {
		return false, err
	}

	if e.boolCache != nil {
		e.boolCache.Add(key, manager)
	}
	return manager, nil
}

// GetSystemCapabilities returns the union of capability grants across
// all of the user's platform roles. Only capabilities set to true in a
// role contribute.
func (e *Engine) GetSystemCapabilities(ctx context.Context, userID int64) (map[string]bool, error) {
	roles, err := e.store.GetSystemRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	caps := make(map[string]bool)
	for _, role := range roles {
		for name, granted := range role.Capabilities {
			if granted {
				caps[name] = true
			}
		}
	}
	return caps, nil
}

// HasSystemCapability reports whether any of the user's platform roles
// grants the named capability.
func (e *Engine) HasSystemCapability(ctx context.Context, user User, capability string) (bool, error) {
	caps, err := e.GetSystemCapabilities(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return caps[capability], nil
}

// WorkspaceRoleCode returns the user's role code within a workspace,
// or the empty string when the user is not a member.
func (e *Engine) WorkspaceRoleCode(ctx context.Context, userID, workspaceID int64) (string, error) {
	key := cacheKey{Kind: kindWorkspaceRole, UserID: userID, WorkspaceID: workspaceID}
	if e.roleCache != nil {
		if v, ok := e.roleCache.Get(key); ok {
			e.cacheHit(ctx, "memberships")
			return v, nil
		}
		e.cacheMiss(ctx, "memberships")
	}

	membership, err := e.store.GetMembership(ctx, workspaceID, userID)
	if err != nil {
		return "", err
	}

	code := ""
	if membership != nil {
		code = membership.RoleCode
	}

	if e.roleCache != nil {
		e.roleCache.Add(key, code)
	}
	return code, nil
}

// IsWorkspaceMember reports whether the user belongs to the workspace.
func (e *Engine) IsWorkspaceMember(ctx context.Context, userID, workspaceID int64) (bool, error) {
	code, err := e.WorkspaceRoleCode(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return code != "", nil
}

// IsWorkspaceAdmin reports whether the user's role in the workspace
// resolves to the admin tier.
func (e *Engine) IsWorkspaceAdmin(ctx context.Context, userID, workspaceID int64) (bool, error) {
	code, err := e.WorkspaceRoleCode(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return RoleTier(code) >= TierAdmin, nil
}

// IsWorkspaceModerator reports whether the user's role in the workspace
// resolves to the moderator tier or above.
func (e *Engine) IsWorkspaceModerator(ctx context.Context, userID, workspaceID int64) (bool, error) {
	code, err := e.WorkspaceRoleCode(ctx, userID, workspaceID)
	if err != nil {
		return false, err
	}
	return RoleTier(code) >= TierModerator, nil
}
