package authz

import (
	"time"
)

// User is the authenticated principal a decision is evaluated for.
// Gatehouse does not own the user directory; the identity service
// authenticates the request and forwards the user id and email.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email,omitempty"`
}

// BucketLevel is a coarse workspace-wide access tier. Every workspace
// action maps to exactly one bucket per role.
type BucketLevel string

const (
	BucketDeny           BucketLevel = "deny"
	BucketAdminOnly      BucketLevel = "admin_only"
	BucketAdminModerator BucketLevel = "admin_moderator"
	BucketAllMembers     BucketLevel = "all_members"
	BucketAuthorized     BucketLevel = "authorized"
	BucketExternal       BucketLevel = "external"
)

// Tier orders workspace membership roles from most to least privileged.
// A bucket admits every tier at or above its minimum.
type Tier int

const (
	TierNone Tier = iota
	TierExternal
	TierViewer
	TierMember
	TierModerator
	TierAdmin
)

// Scope says how far a module capability reaches: the whole workspace,
// only records the caller owns, or the caller's team (currently treated
// the same as own).
type Scope string

const (
	ScopeOwn       Scope = "own"
	ScopeTeam      Scope = "team"
	ScopeWorkspace Scope = "workspace"
)

// Effect is the outcome of a per-user permission override.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PrincipalType identifies what kind of principal an object ACL entry
// grants to.
type PrincipalType string

const (
	PrincipalUser          PrincipalType = "user"
	PrincipalWorkspaceRole PrincipalType = "workspace_role"
	PrincipalTeam          PrincipalType = "team"
)

// FlagScope identifies the level a feature flag row applies at.
const (
	FlagScopeGlobal    = "global"
	FlagScopeWorkspace = "workspace"
	FlagScopeModule    = "module"
)

// SystemRole is a platform-level role such as SYSTEM_ADMIN. Capabilities
// are stored as a JSON map so operators can extend roles without a schema
// change.
type SystemRole struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	IsSystem     bool            `json:"is_system"`
	Capabilities map[string]bool `json:"capabilities"`
	CreatedAt    time.Time       `json:"created_at"`
}

// WorkspaceMembership ties a user to a workspace under a role code. The
// role code is legacy free text; resolution to a WorkspaceRole row goes
// through the synonym candidate table.
type WorkspaceMembership struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	UserID      int64     `json:"user_id"`
	RoleCode    string    `json:"role_code"`
	JoinedAt    time.Time `json:"joined_at"`
}

// WorkspaceRole is a structured role definition. Rows with a nil
// WorkspaceID are global templates; a workspace-scoped row with the same
// code shadows the template for that workspace.
type WorkspaceRole struct {
	ID          int64                  `json:"id"`
	WorkspaceID *int64                 `json:"workspace_id,omitempty"`
	Code        string                 `json:"code"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Priority    int                    `json:"priority"`
	IsDefault   bool                   `json:"is_default"`
	IsSystem    bool                   `json:"is_system"`
	Buckets     map[string]BucketLevel `json:"buckets"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ModuleCapabilities is the fine-grained capability set a role grants
// inside one module.
type ModuleCapabilities struct {
	Read    bool  `json:"read"`
	Create  bool  `json:"create"`
	Edit    bool  `json:"edit"`
	Delete  bool  `json:"delete"`
	Publish bool  `json:"publish"`
	Assign  bool  `json:"assign"`
	Bulk    bool  `json:"bulk"`
	Scope   Scope `json:"scope,omitempty"`
}

// Can reports whether the capability set grants the given action. The
// action is normalized through the alias table first, so "view" asks
// about Read and "bulk_upload" about Bulk.
func (c ModuleCapabilities) Can(action string) bool {
	switch NormalizeAction(action) {
	case "read":
		return c.Read
	case "create":
		return c.Create
	case "edit":
		return c.Edit
	case "delete":
		return c.Delete
	case "publish":
		return c.Publish
	case "assign":
		return c.Assign
	case "bulk":
		return c.Bulk
	}
	return false
}

// ActionMap returns the capability set as an action-to-allowed map,
// excluding scope. The map uses canonical action names.
func (c ModuleCapabilities) ActionMap() map[string]bool {
	return map[string]bool{
		"read":    c.Read,
		"create":  c.Create,
		"edit":    c.Edit,
		"delete":  c.Delete,
		"publish": c.Publish,
		"assign":  c.Assign,
		"bulk":    c.Bulk,
	}
}

// Apply returns a copy of the capability set with the given overrides
// folded in. Overrides naming actions outside the canonical set are
// ignored here; the decision path honors them directly.
func (c ModuleCapabilities) Apply(overrides map[string]Effect) ModuleCapabilities {
	out := c
	for action, effect := range overrides {
		allowed := effect == EffectAllow
		switch NormalizeAction(action) {
		case "read":
			out.Read = allowed
		case "create":
			out.Create = allowed
		case "edit":
			out.Edit = allowed
		case "delete":
			out.Delete = allowed
		case "publish":
			out.Publish = allowed
		case "assign":
			out.Assign = allowed
		case "bulk":
			out.Bulk = allowed
		}
	}
	return out
}

// PermissionOverride is a stored per-user exception to the module
// baseline. Action and module are kept lowercase and alias-normalized.
type PermissionOverride struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	UserID      int64     `json:"user_id"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	Effect      Effect    `json:"effect"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	UpdatedBy   *int64    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OverrideInput is one row of a replace-overrides request.
type OverrideInput struct {
	Module string `json:"module"`
	Action string `json:"action"`
	Effect Effect `json:"effect"`
}

// ObjectACLEntry grants object-level permissions to a principal. The
// inherit and propagate fields are persisted for forward compatibility
// but not yet evaluated.
type ObjectACLEntry struct {
	ID                  int64           `json:"id"`
	ObjectType          string          `json:"object_type"`
	ObjectID            string          `json:"object_id"`
	PrincipalType       PrincipalType   `json:"principal_type"`
	PrincipalID         int64           `json:"principal_id"`
	Permissions         map[string]bool `json:"permissions"`
	InheritFromParent   bool            `json:"inherit_from_parent"`
	PropagateToChildren bool            `json:"propagate_to_children"`
	CreatedBy           *int64          `json:"created_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// FeatureFlag is a kill-switch row. Absence of a row means disabled; a
// workspace-scoped row wins over the global row even when disabled.
type FeatureFlag struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Scope       string    `json:"scope"`
	ScopeID     *int64    `json:"scope_id,omitempty"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccessRequest carries everything checkAccess needs to evaluate one
// decision. Action is required; the remaining coordinates are optional
// and select which layers run.
type AccessRequest struct {
	User         User   `json:"user"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	WorkspaceID  *int64 `json:"workspace_id,omitempty"`
	Module       string `json:"module,omitempty"`

	// SkipAudit suppresses the audit trail entry for this call. Used by
	// dry-run introspection; normal request paths leave it false.
	SkipAudit bool `json:"-"`
}

// BucketVerdict pairs the bucket an action resolved to with whether the
// caller's tier clears it.
type BucketVerdict struct {
	Bucket  BucketLevel `json:"bucket"`
	Allowed bool        `json:"allowed"`
}

// Report is the introspection view of a user's permissions, built by
// ListEffectivePermissions. Sections are populated only when their
// coordinates were supplied.
type Report struct {
	UserID               int64                    `json:"user_id"`
	SystemRole           string                   `json:"system_role"`
	SystemCapabilities   map[string]bool          `json:"system_capabilities,omitempty"`
	WorkspaceID          *int64                   `json:"workspace_id,omitempty"`
	WorkspaceRole        string                   `json:"workspace_role,omitempty"`
	WorkspacePermissions map[string]BucketVerdict `json:"workspace_permissions,omitempty"`
	Module               string                   `json:"module,omitempty"`
	ModuleCapabilities   *ModuleCapabilities      `json:"module_capabilities,omitempty"`
	ObjectPermissions    map[string]bool          `json:"object_permissions,omitempty"`
	Effective            map[string]bool          `json:"effective"`
	GeneratedAt          time.Time                `json:"generated_at"`
}
