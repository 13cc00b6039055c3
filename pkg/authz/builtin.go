package authz

import (
	"strings"
)

// Platform role codes.
const (
	SystemRoleAdmin            = "SYSTEM_ADMIN"
	SystemRoleWorkspaceManager = "GLOBAL_WORKSPACE_MANAGER"
	SystemRoleUser             = "USER"
)

// Workspace role template codes.
const (
	RoleWorkspaceAdmin = "WORKSPACE_ADMIN"
	RoleModerator      = "MODERATOR"
	RoleMember         = "MEMBER"
	RoleExternal       = "EXTERNAL"
)

// Workspace actions that resolve through the bucket layer.
const (
	ActionManageMembers     = "manage_members"
	ActionManageRoles       = "manage_roles"
	ActionManageConnections = "manage_connections"
	ActionManageSettings    = "manage_settings"
	ActionViewData          = "view_data"
	ActionCreateData        = "create_data"
	ActionEditData          = "edit_data"
	ActionDeleteData        = "delete_data"
	ActionDeleteWorkspace   = "delete_workspace"
)

// Feature flag codes the engine and its operators know about.
const (
	FlagPermissionEnforcement = "permission_enforcement"
	FlagAuditMode             = "audit_mode"
	FlagWorkspaceIsolation    = "workspace_isolation"
	FlagObjectACL             = "object_acl"
)

// Modules returns the catalog of module names a workspace can carry
// capability rows for.
func Modules() []string {
	return []string{
		"dashboard",
		"listings",
		"leads",
		"insights",
		"tasks",
		"contacts",
		"users",
		"settings",
		"loops",
	}
}

// AllObjectPermissions lists every permission name an object ACL entry
// can grant.
func AllObjectPermissions() []string {
	return []string{"read", "create", "edit", "delete", "share", "admin"}
}

// StandardBucketActions lists the workspace actions reported by the
// introspection endpoint, in report order.
func StandardBucketActions() []string {
	return []string{
		ActionManageMembers,
		ActionManageRoles,
		ActionManageConnections,
		ActionManageSettings,
		ActionViewData,
		ActionCreateData,
		ActionEditData,
		ActionDeleteData,
	}
}

// BuiltinSystemRoles returns the platform role definitions seeded at
// startup.
func BuiltinSystemRoles() []SystemRole {
	return []SystemRole{
		{
			Code:        SystemRoleAdmin,
			Name:        "System Administrator",
			Description: "Full system access including all configurations",
			IsSystem:    true,
			Capabilities: map[string]bool{
				"manage_system":          true,
				"manage_workspaces":      true,
				"view_all_workspaces":    true,
				"manage_users":           true,
				"manage_system_roles":    true,
				"manage_feature_flags":   true,
				"view_audit_logs":        true,
				"manage_global_settings": true,
			},
		},
		{
			Code:        SystemRoleWorkspaceManager,
			Name:        "Global Workspace Manager",
			Description: "Can manage all workspaces without accessing private content",
			IsSystem:    true,
			Capabilities: map[string]bool{
				"manage_workspaces":            true,
				"view_all_workspaces":          true,
				"assign_workspace_admins":      true,
				"configure_workspace_features": true,
				"view_workspace_stats":         true,
			},
		},
		{
			Code:         SystemRoleUser,
			Name:         "Regular User",
			Description:  "Standard platform access",
			IsSystem:     true,
			Capabilities: map[string]bool{},
		},
	}
}

// BuiltinWorkspaceRoles returns the global role templates seeded at
// startup. Workspaces shadow these with rows of their own when they
// need custom buckets.
func BuiltinWorkspaceRoles() []WorkspaceRole {
	return []WorkspaceRole{
		{
			Code:        RoleWorkspaceAdmin,
			Name:        "Workspace Admin",
			Description: "Full control of the workspace",
			Priority:    100,
			IsSystem:    true,
			Buckets: map[string]BucketLevel{
				ActionManageMembers:     BucketAdminOnly,
				ActionManageRoles:       BucketAdminOnly,
				ActionManageConnections: BucketAdminOnly,
				ActionManageSettings:    BucketAdminOnly,
				ActionDeleteWorkspace:   BucketAdminOnly,
				ActionViewData:          BucketAllMembers,
				ActionCreateData:        BucketAllMembers,
				ActionEditData:          BucketAllMembers,
				ActionDeleteData:        BucketAdminModerator,
			},
		},
		{
			Code:        RoleModerator,
			Name:        "Moderator",
			Description: "Can moderate content and assist with management",
			Priority:    50,
			IsSystem:    true,
			Buckets: map[string]BucketLevel{
				ActionManageMembers:     BucketAdminModerator,
				ActionManageRoles:       BucketDeny,
				ActionManageConnections: BucketDeny,
				ActionManageSettings:    BucketDeny,
				ActionDeleteWorkspace:   BucketDeny,
				ActionViewData:          BucketAllMembers,
				ActionCreateData:        BucketAllMembers,
				ActionEditData:          BucketAllMembers,
				ActionDeleteData:        BucketAdminModerator,
			},
		},
		{
			Code:        RoleMember,
			Name:        "Member",
			Description: "Standard workspace member with full data access",
			Priority:    10,
			IsDefault:   true,
			IsSystem:    true,
			Buckets: map[string]BucketLevel{
				ActionManageMembers:     BucketDeny,
				ActionManageRoles:       BucketDeny,
				ActionManageConnections: BucketDeny,
				ActionManageSettings:    BucketDeny,
				ActionDeleteWorkspace:   BucketDeny,
				ActionViewData:          BucketAllMembers,
				ActionCreateData:        BucketAllMembers,
				ActionEditData:          BucketAllMembers,
				ActionDeleteData:        BucketDeny,
			},
		},
		{
			Code:        RoleExternal,
			Name:        "External/Guest",
			Description: "Limited access for external collaborators",
			Priority:    1,
			IsSystem:    true,
			Buckets: map[string]BucketLevel{
				ActionManageMembers:     BucketDeny,
				ActionManageRoles:       BucketDeny,
				ActionManageConnections: BucketDeny,
				ActionManageSettings:    BucketDeny,
				ActionDeleteWorkspace:   BucketDeny,
				ActionViewData:          BucketExternal,
				ActionCreateData:        BucketDeny,
				ActionEditData:          BucketDeny,
				ActionDeleteData:        BucketDeny,
			},
		},
	}
}

// roleCandidates maps a normalized membership role code to the role
// codes tried against workspace_roles, in order. Membership codes
// predate structured roles, so several of them resolve to a template
// under a different name. New synonyms belong here, not in the
// evaluator.
var roleCandidates = map[string][]string{
	"OWNER":     {"OWNER", RoleWorkspaceAdmin},
	"ADMIN":     {RoleWorkspaceAdmin, "ADMIN"},
	"MODERATOR": {RoleModerator},
	"MEMBER":    {RoleMember},
	"VIEWER":    {"VIEWER", RoleExternal},
	"EXTERNAL":  {RoleExternal},
}

// CandidateRoleCodes returns the ordered workspace role codes to try for
// a membership role code. Unknown codes resolve to themselves.
func CandidateRoleCodes(roleCode string) []string {
	upper := strings.ToUpper(strings.TrimSpace(roleCode))
	if candidates, ok := roleCandidates[upper]; ok {
		return candidates
	}
	return []string{upper}
}

// RoleTier maps a membership role code to its tier. Unknown codes rank
// below external.
func RoleTier(roleCode string) Tier {
	switch strings.ToUpper(strings.TrimSpace(roleCode)) {
	case "OWNER", "ADMIN", RoleWorkspaceAdmin:
		return TierAdmin
	case RoleModerator:
		return TierModerator
	case RoleMember:
		return TierMember
	case "VIEWER":
		return TierViewer
	case RoleExternal:
		return TierExternal
	}
	return TierNone
}

// bucketMinTier returns the lowest tier a bucket admits. The second
// return is false for deny and for unknown buckets, which admit nobody.
func bucketMinTier(bucket BucketLevel) (Tier, bool) {
	switch bucket {
	case BucketAdminOnly:
		return TierAdmin, true
	case BucketAdminModerator:
		return TierModerator, true
	case BucketAllMembers:
		return TierMember, true
	// authorized and external both admit every member tier: authorized
	// means "any authenticated member, external included".
	case BucketAuthorized:
		return TierExternal, true
	case BucketExternal:
		return TierExternal, true
	}
	return TierNone, false
}

// workspaceActionBuckets maps request actions to the bucket action they
// resolve through. Actions absent from the map skip the bucket layer.
var workspaceActionBuckets = map[string]string{
	"create":             ActionCreateData,
	"edit":               ActionEditData,
	"delete":             ActionDeleteData,
	"view":               ActionViewData,
	"read":               ActionViewData,
	"manage_members":     ActionManageMembers,
	"manage_roles":       ActionManageRoles,
	"manage_connections": ActionManageConnections,
	"manage_settings":    ActionManageSettings,
	"delete_workspace":   ActionDeleteWorkspace,
}

// bucketActionFor returns the bucket action a request action maps to,
// or "" when the action does not participate in the bucket layer.
func bucketActionFor(action string) string {
	return workspaceActionBuckets[strings.ToLower(strings.TrimSpace(action))]
}

// globalManagerActions are the only actions a GLOBAL_WORKSPACE_MANAGER
// may perform inside a workspace it is not a member of.
var globalManagerActions = map[string]bool{
	"view_workspace":   true,
	"manage_workspace": true,
	"assign_admin":     true,
}

// actionAliases folds legacy action names onto their canonical form.
// Applied on every read and write so storage and callers never disagree.
var actionAliases = map[string]string{
	"view":        "read",
	"bulk_upload": "bulk",
}

// NormalizeAction lowercases an action and resolves legacy aliases.
func NormalizeAction(action string) string {
	lower := strings.ToLower(strings.TrimSpace(action))
	if canonical, ok := actionAliases[lower]; ok {
		return canonical
	}
	return lower
}

// defaultModuleCapabilities is the capability baseline a tier gets in
// any module when the role carries no explicit module row.
func defaultModuleCapabilities(tier Tier) ModuleCapabilities {
	switch tier {
	case TierAdmin:
		return ModuleCapabilities{
			Read: true, Create: true, Edit: true, Delete: true,
			Publish: true, Assign: true, Bulk: true,
			Scope: ScopeWorkspace,
		}
	case TierModerator:
		return ModuleCapabilities{
			Read: true, Create: true, Edit: true, Delete: true,
			Publish: true, Bulk: true,
			Scope: ScopeWorkspace,
		}
	case TierMember:
		return ModuleCapabilities{
			Read: true, Create: true, Edit: true,
			Scope: ScopeOwn,
		}
	case TierViewer, TierExternal:
		return ModuleCapabilities{
			Read:  true,
			Scope: ScopeWorkspace,
		}
	}
	return ModuleCapabilities{}
}

// legacyModuleCapabilities converts one section of a legacy flat
// permission map into a capability set. Legacy grants are always scoped
// to the caller's own records.
func legacyModuleCapabilities(sections map[string]map[string]bool, module string) ModuleCapabilities {
	section := sections[strings.ToLower(module)]
	if section == nil {
		return ModuleCapabilities{}
	}
	return ModuleCapabilities{
		Read:    section["view"] || section["read"],
		Create:  section["create"],
		Edit:    section["edit"],
		Delete:  section["delete"],
		Publish: section["publish"],
		Assign:  section["assign"],
		Bulk:    section["bulk_upload"] || section["bulk"],
		Scope:   ScopeOwn,
	}
}

// sysAdminEffective is the introspection shorthand for a system
// administrator; no per-layer evaluation happens for them.
func sysAdminEffective() map[string]bool {
	return map[string]bool{
		"full_access": true,
		"read":        true,
		"create":      true,
		"edit":        true,
		"delete":      true,
		"publish":     true,
		"assign":      true,
		"manage":      true,
	}
}
