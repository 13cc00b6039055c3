package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/casagrid/gatehouse/pkg/authz"
)

// SeedFile is the YAML document gatehouse-seed applies. Every section
// is optional; applying the same file twice is a no-op because each
// entry maps to an upsert.
type SeedFile struct {
	SystemRoles       []SeedSystemRole    `yaml:"system_roles"`
	SystemAssignments []SeedAssignment    `yaml:"system_assignments"`
	WorkspaceRoles    []SeedWorkspaceRole `yaml:"workspace_roles"`
	Memberships       []SeedMembership    `yaml:"memberships"`
	FeatureFlags      []SeedFeatureFlag   `yaml:"feature_flags"`
	LegacySections    []SeedLegacyUser    `yaml:"legacy_sections"`
}

// SeedSystemRole defines or updates a platform-level role.
type SeedSystemRole struct {
	Code         string          `yaml:"code"`
	Name         string          `yaml:"name"`
	Description  string          `yaml:"description"`
	Capabilities map[string]bool `yaml:"capabilities"`
}

// SeedAssignment grants a system role to a user.
type SeedAssignment struct {
	UserID     int64  `yaml:"user_id"`
	Role       string `yaml:"role"`
	AssignedBy *int64 `yaml:"assigned_by"`
}

// SeedWorkspaceRole defines a workspace role. Without a workspace_id
// the role is a global template; with one it shadows the template for
// that workspace only.
type SeedWorkspaceRole struct {
	Code        string                     `yaml:"code"`
	Name        string                     `yaml:"name"`
	Description string                     `yaml:"description"`
	WorkspaceID *int64                     `yaml:"workspace_id"`
	Priority    int                        `yaml:"priority"`
	IsDefault   bool                       `yaml:"default"`
	Buckets     map[string]string          `yaml:"buckets"`
	Modules     map[string]SeedModuleGrant `yaml:"modules"`
}

// SeedModuleGrant is the capability set a role gets inside one module.
type SeedModuleGrant struct {
	Read    bool   `yaml:"read"`
	Create  bool   `yaml:"create"`
	Edit    bool   `yaml:"edit"`
	Delete  bool   `yaml:"delete"`
	Publish bool   `yaml:"publish"`
	Assign  bool   `yaml:"assign"`
	Bulk    bool   `yaml:"bulk"`
	Scope   string `yaml:"scope"`
}

// SeedMembership places a user in a workspace under a role code.
type SeedMembership struct {
	WorkspaceID int64  `yaml:"workspace_id"`
	UserID      int64  `yaml:"user_id"`
	Role        string `yaml:"role"`
}

// SeedFeatureFlag sets one flag row at one scope.
type SeedFeatureFlag struct {
	Code        string `yaml:"code"`
	Scope       string `yaml:"scope"`
	ScopeID     *int64 `yaml:"scope_id"`
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description"`
}

// SeedLegacyUser replaces a user's legacy section grid.
type SeedLegacyUser struct {
	UserID   int64                      `yaml:"user_id"`
	Sections map[string]map[string]bool `yaml:"sections"`
}

var validBucketLevels = map[string]bool{
	string(authz.BucketDeny):           true,
	string(authz.BucketAdminOnly):      true,
	string(authz.BucketAdminModerator): true,
	string(authz.BucketAllMembers):     true,
	string(authz.BucketAuthorized):     true,
	string(authz.BucketExternal):       true,
}

var validGrantScopes = map[string]bool{
	"":                           true,
	string(authz.ScopeOwn):       true,
	string(authz.ScopeTeam):      true,
	string(authz.ScopeWorkspace): true,
}

var validFlagScopes = map[string]bool{
	authz.FlagScopeGlobal:    true,
	authz.FlagScopeWorkspace: true,
	authz.FlagScopeModule:    true,
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return &seed, nil
}

// Validate rejects entries the store would accept but the engine could
// never resolve: unknown bucket levels, unknown modules, flags scoped
// to nothing.
func (s *SeedFile) Validate() error {
	knownModules := make(map[string]bool)
	for _, m := range authz.Modules() {
		knownModules[m] = true
	}

	for i, role := range s.SystemRoles {
		if strings.TrimSpace(role.Code) == "" {
			return fmt.Errorf("system_roles[%d]: code is required", i)
		}
	}

	for i, assignment := range s.SystemAssignments {
		if assignment.UserID <= 0 {
			return fmt.Errorf("system_assignments[%d]: user_id must be positive", i)
		}
		if strings.TrimSpace(assignment.Role) == "" {
			return fmt.Errorf("system_assignments[%d]: role is required", i)
		}
	}

	for i, role := range s.WorkspaceRoles {
		if strings.TrimSpace(role.Code) == "" {
			return fmt.Errorf("workspace_roles[%d]: code is required", i)
		}
		for action, level := range role.Buckets {
			if !validBucketLevels[level] {
				return fmt.Errorf("workspace_roles[%d]: bucket %q has unknown level %q", i, action, level)
			}
		}
		for module, grant := range role.Modules {
			if !knownModules[strings.ToLower(module)] {
				return fmt.Errorf("workspace_roles[%d]: unknown module %q", i, module)
			}
			if !validGrantScopes[grant.Scope] {
				return fmt.Errorf("workspace_roles[%d]: module %q has unknown scope %q", i, module, grant.Scope)
			}
		}
	}

	for i, m := range s.Memberships {
		if m.WorkspaceID <= 0 {
			return fmt.Errorf("memberships[%d]: workspace_id must be positive", i)
		}
		if m.UserID <= 0 {
			return fmt.Errorf("memberships[%d]: user_id must be positive", i)
		}
		if strings.TrimSpace(m.Role) == "" {
			return fmt.Errorf("memberships[%d]: role is required", i)
		}
	}

	for i, flag := range s.FeatureFlags {
		if strings.TrimSpace(flag.Code) == "" {
			return fmt.Errorf("feature_flags[%d]: code is required", i)
		}
		if !validFlagScopes[flag.Scope] {
			return fmt.Errorf("feature_flags[%d]: unknown scope %q", i, flag.Scope)
		}
		if flag.Scope != authz.FlagScopeGlobal && flag.ScopeID == nil {
			return fmt.Errorf("feature_flags[%d]: scope %q requires scope_id", i, flag.Scope)
		}
	}

	for i, legacy := range s.LegacySections {
		if legacy.UserID <= 0 {
			return fmt.Errorf("legacy_sections[%d]: user_id must be positive", i)
		}
	}

	return nil
}

// Counts summarizes how many entries each section holds, for logging.
func (s *SeedFile) Counts() map[string]interface{} {
	moduleGrants := 0
	for _, role := range s.WorkspaceRoles {
		moduleGrants += len(role.Modules)
	}
	return map[string]interface{}{
		"system_roles":       len(s.SystemRoles),
		"system_assignments": len(s.SystemAssignments),
		"workspace_roles":    len(s.WorkspaceRoles),
		"module_grants":      moduleGrants,
		"memberships":        len(s.Memberships),
		"feature_flags":      len(s.FeatureFlags),
		"legacy_sections":    len(s.LegacySections),
	}
}

func (r SeedSystemRole) toRole() *authz.SystemRole {
	return &authz.SystemRole{
		Code:         r.Code,
		Name:         r.Name,
		Description:  r.Description,
		Capabilities: r.Capabilities,
	}
}

func (r SeedWorkspaceRole) toRole() *authz.WorkspaceRole {
	buckets := make(map[string]authz.BucketLevel, len(r.Buckets))
	for action, level := range r.Buckets {
		buckets[action] = authz.BucketLevel(level)
	}
	return &authz.WorkspaceRole{
		WorkspaceID: r.WorkspaceID,
		Code:        r.Code,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		IsDefault:   r.IsDefault,
		Buckets:     buckets,
	}
}

func (g SeedModuleGrant) toCapabilities() authz.ModuleCapabilities {
	return authz.ModuleCapabilities{
		Read:    g.Read,
		Create:  g.Create,
		Edit:    g.Edit,
		Delete:  g.Delete,
		Publish: g.Publish,
		Assign:  g.Assign,
		Bulk:    g.Bulk,
		Scope:   authz.Scope(g.Scope),
	}
}

func (f SeedFeatureFlag) toFlag() *authz.FeatureFlag {
	return &authz.FeatureFlag{
		Code:        f.Code,
		Scope:       f.Scope,
		ScopeID:     f.ScopeID,
		Enabled:     f.Enabled,
		Description: f.Description,
	}
}
