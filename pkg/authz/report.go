package authz

import (
	"context"
	"strings"
	"time"
)

// ListEffectivePermissions assembles the read-only permission report
// for a user: platform classification, per-bucket verdicts, merged
// module capabilities, object grants, and a flattened effective map.
// It performs the same lookups as CheckAccess but never gates anything
// and never writes audit entries.
func (e *Engine) ListEffectivePermissions(ctx context.Context, user User, workspaceID *int64, module, resourceType, resourceID string) (*Report, error) {
	report := &Report{
		UserID:      user.ID,
		WorkspaceID: workspaceID,
		GeneratedAt: time.Now().UTC(),
	}

	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return nil, err
	}
	manager, err := e.IsGlobalWorkspaceManager(ctx, user)
	if err != nil {
		return nil, err
	}
	switch {
	case admin:
		report.SystemRole = SystemRoleAdmin
	case manager:
		report.SystemRole = SystemRoleWorkspaceManager
	default:
		report.SystemRole = SystemRoleUser
	}

	report.SystemCapabilities, err = e.GetSystemCapabilities(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if workspaceID != nil {
		roleCode, err := e.WorkspaceRoleCode(ctx, user.ID, *workspaceID)
		if err != nil {
			return nil, err
		}
		report.WorkspaceRole = roleCode

		verdicts := make(map[string]BucketVerdict, len(StandardBucketActions()))
		switch {
		case admin:
			for _, action := range StandardBucketActions() {
				verdicts[action] = BucketVerdict{Bucket: BucketAdminOnly, Allowed: true}
			}
		case roleCode == "":
			for _, action := range StandardBucketActions() {
				verdicts[action] = BucketVerdict{Bucket: BucketDeny}
			}
		default:
			role, err := e.resolveWorkspaceRole(ctx, *workspaceID, roleCode)
			if err != nil {
				return nil, err
			}
			for _, action := range StandardBucketActions() {
				verdicts[action] = roleVerdict(role, roleCode, action)
			}
		}
		report.WorkspacePermissions = verdicts
	}

	if module != "" {
		report.Module = strings.ToLower(module)
		caps, err := e.GetEffectiveModuleCapabilities(ctx, user, workspaceID, module)
		if err != nil {
			return nil, err
		}
		report.ModuleCapabilities = &caps
	}

	if resourceType != "" && resourceID != "" {
		report.ObjectPermissions, err = e.GetObjectPermissions(ctx, user, resourceType, resourceID)
		if err != nil {
			return nil, err
		}
	}

	if admin {
		report.Effective = sysAdminEffective()
		return report, nil
	}

	effective := make(map[string]bool)
	for action, verdict := range report.WorkspacePermissions {
		if verdict.Allowed {
			effective[action] = true
		}
	}
	if report.ModuleCapabilities != nil {
		for action, allowed := range report.ModuleCapabilities.ActionMap() {
			if allowed {
				effective[action] = true
			}
		}
	}
	for name, granted := range report.ObjectPermissions {
		if granted {
			effective[name] = true
		}
	}
	report.Effective = effective

	return report, nil
}
