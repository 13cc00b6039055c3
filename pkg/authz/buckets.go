package authz

import (
	"context"
	"strings"
)

// resolveWorkspaceRole finds the role row the membership code evaluates
// under, trying synonym candidates in order and preferring a
// workspace-specific row over a global template. Nil when no row
// matches.
func (e *Engine) resolveWorkspaceRole(ctx context.Context, workspaceID int64, roleCode string) (*WorkspaceRole, error) {
	return e.store.FindWorkspaceRole(ctx, workspaceID, CandidateRoleCodes(roleCode))
}

// GetPermissionBucket returns the bucket level the user's workspace
// role assigns to a bucket action. System administrators report
// admin_only; a missing membership, role row, or bucket entry reports
// deny.
func (e *Engine) GetPermissionBucket(ctx context.Context, user User, workspaceID int64, action string) (BucketLevel, error) {
	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return BucketDeny, err
	}
	if admin {
		return BucketAdminOnly, nil
	}

	roleCode, err := e.WorkspaceRoleCode(ctx, user.ID, workspaceID)
	if err != nil {
		return BucketDeny, err
	}
	if roleCode == "" {
		return BucketDeny, nil
	}

	role, err := e.resolveWorkspaceRole(ctx, workspaceID, roleCode)
	if err != nil {
		return BucketDeny, err
	}
	if role == nil {
		return BucketDeny, nil
	}

	bucket, ok := role.Buckets[strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		return BucketDeny, nil
	}
	return bucket, nil
}

// CheckWorkspaceAction reports whether the user's role tier meets the
// minimum tier of the bucket their role assigns to the action. System
// administrators always pass.
func (e *Engine) CheckWorkspaceAction(ctx context.Context, user User, workspaceID int64, action string) (bool, error) {
	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}

	roleCode, err := e.WorkspaceRoleCode(ctx, user.ID, workspaceID)
	if err != nil {
		return false, err
	}
	if roleCode == "" {
		return false, nil
	}

	verdict, err := e.workspaceVerdict(ctx, workspaceID, roleCode, action)
	if err != nil {
		return false, err
	}
	return verdict.Allowed, nil
}

// workspaceVerdict resolves the member's role row and evaluates one
// bucket action against it.
func (e *Engine) workspaceVerdict(ctx context.Context, workspaceID int64, roleCode, action string) (BucketVerdict, error) {
	role, err := e.resolveWorkspaceRole(ctx, workspaceID, roleCode)
	if err != nil {
		return BucketVerdict{Bucket: BucketDeny}, err
	}
	return roleVerdict(role, roleCode, action), nil
}

// roleVerdict evaluates one bucket action against an already-resolved
// role row.
func roleVerdict(role *WorkspaceRole, roleCode, action string) BucketVerdict {
	if role == nil {
		return BucketVerdict{Bucket: BucketDeny}
	}

	bucket, ok := role.Buckets[strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		return BucketVerdict{Bucket: BucketDeny}
	}

	minTier, open := bucketMinTier(bucket)
	if !open {
		return BucketVerdict{Bucket: bucket}
	}

	return BucketVerdict{Bucket: bucket, Allowed: memberTier(roleCode, role) >= minTier}
}

// memberTier is the tier a member evaluates at. The membership code
// decides; when it carries no tier, the resolved role row's code does.
func memberTier(roleCode string, role *WorkspaceRole) Tier {
	tier := RoleTier(roleCode)
	if tier == TierNone && role != nil {
		tier = RoleTier(role.Code)
	}
	return tier
}
