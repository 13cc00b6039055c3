//go:build integration
// +build integration

package authz

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// TestPostgresEndToEnd walks the rollout story against a real
// database: an admin bypasses everything, a member hits the module
// baseline, overrides flip it, and audit mode observes without
// enforcing.
func TestPostgresEndToEnd(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()
	store := NewPostgresStore(db)

	capture := &captureLogger{}
	engine, err := NewEngine(Config{
		Store:        store,
		AuditLogger:  capture,
		Logger:       observability.NewLogger(observability.ErrorLevel, io.Discard),
		CacheEnabled: true,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpsertFeatureFlag(ctx, &FeatureFlag{
		Code:    FlagPermissionEnforcement,
		Scope:   FlagScopeGlobal,
		Enabled: true,
	}))

	workspaceID := int64(7)
	admin := User{ID: 1, Email: "root@casagrid.test"}
	member := User{ID: 11, Email: "m@casagrid.test"}

	// A system admin with zero membership rows clears every layer.
	require.NoError(t, store.AssignSystemRole(ctx, admin.ID, SystemRoleAdmin, nil))
	allowed, err := engine.CheckAccess(ctx, AccessRequest{
		User:         admin,
		Action:       "delete",
		ResourceType: "listing",
		ResourceID:   "42",
		WorkspaceID:  &workspaceID,
		Module:       "listings",
	})
	require.NoError(t, err)
	assert.True(t, allowed, "system admin should bypass all layers")

	require.NoError(t, store.UpsertMembership(ctx, &WorkspaceMembership{
		WorkspaceID: workspaceID,
		UserID:      member.ID,
		RoleCode:    "MEMBER",
		JoinedAt:    time.Now(),
	}))

	// Baseline: members cannot delete listings.
	allowed, err = engine.CheckWorkspaceModuleAction(ctx, member, workspaceID, "listings", "delete")
	require.NoError(t, err)
	assert.False(t, allowed, "member delete should be denied at baseline")

	// An allow override flips the baseline.
	actorID := int64(3)
	_, err = engine.ReplaceUserOverrides(ctx, workspaceID, member.ID,
		[]OverrideInput{{Module: "listings", Action: "delete", Effect: EffectAllow}}, &actorID)
	require.NoError(t, err)

	allowed, err = engine.CheckWorkspaceModuleAction(ctx, member, workspaceID, "listings", "delete")
	require.NoError(t, err)
	assert.True(t, allowed, "allow override should beat the baseline")

	// Replacing with a deny leaves exactly one stored row and denies.
	rows, err := engine.ReplaceUserOverrides(ctx, workspaceID, member.ID,
		[]OverrideInput{{Module: "listings", Action: "delete", Effect: EffectDeny}}, &actorID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, EffectDeny, rows[0].Effect)

	var stored int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM permission_overrides WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, member.ID).Scan(&stored))
	assert.Equal(t, 1, stored, "replace must not append")

	allowed, err = engine.CheckWorkspaceModuleAction(ctx, member, workspaceID, "listings", "delete")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Enforcement off, audit mode on: allowed, observed once.
	require.NoError(t, store.UpsertFeatureFlag(ctx, &FeatureFlag{
		Code:    FlagPermissionEnforcement,
		Scope:   FlagScopeGlobal,
		Enabled: false,
	}))
	require.NoError(t, store.UpsertFeatureFlag(ctx, &FeatureFlag{
		Code:    FlagAuditMode,
		Scope:   FlagScopeGlobal,
		Enabled: true,
	}))

	capture.reset()
	allowed, err = engine.CheckAccess(ctx, AccessRequest{
		User:        member,
		Action:      "delete",
		WorkspaceID: &workspaceID,
		Module:      "listings",
	})
	require.NoError(t, err)
	assert.True(t, allowed, "disabled enforcement fails open")
	require.Equal(t, 1, capture.count())
	assert.Equal(t, audit.ResultAuditOnly, capture.last().Result)
}

// TestPostgresStoreQueries exercises the store round trips the sqlmock
// tests can only shape-check.
func TestPostgresStoreQueries(t *testing.T) {
	db := setupPostgresContainer(t)
	ctx := context.Background()
	store := NewPostgresStore(db)

	t.Run("workspace role shadowing and candidate order", func(t *testing.T) {
		workspaceID := int64(7)
		shadow := &WorkspaceRole{
			WorkspaceID: &workspaceID,
			Code:        RoleMember,
			Name:        "Member",
			Priority:    10,
			Buckets: map[string]BucketLevel{
				"delete_data": BucketAllMembers,
			},
		}
		require.NoError(t, store.UpsertWorkspaceRole(ctx, shadow))

		role, err := store.FindWorkspaceRole(ctx, workspaceID, CandidateRoleCodes("member"))
		require.NoError(t, err)
		require.NotNil(t, role)
		require.NotNil(t, role.WorkspaceID, "workspace row should shadow the template")
		assert.Equal(t, BucketAllMembers, role.Buckets["delete_data"])

		role, err = store.FindWorkspaceRole(ctx, 8, CandidateRoleCodes("member"))
		require.NoError(t, err)
		require.NotNil(t, role)
		assert.Nil(t, role.WorkspaceID, "other workspaces keep the template")

		// ADMIN resolves through its synonym chain to the template
		// seeded as WORKSPACE_ADMIN.
		role, err = store.FindWorkspaceRole(ctx, workspaceID, CandidateRoleCodes("admin"))
		require.NoError(t, err)
		require.NotNil(t, role)
		assert.Equal(t, RoleWorkspaceAdmin, role.Code)
	})

	t.Run("feature flag scope precedence", func(t *testing.T) {
		workspaceID := int64(9)
		require.NoError(t, store.UpsertFeatureFlag(ctx, &FeatureFlag{
			Code: FlagAuditMode, Scope: FlagScopeGlobal, Enabled: true,
		}))
		require.NoError(t, store.UpsertFeatureFlag(ctx, &FeatureFlag{
			Code: FlagAuditMode, Scope: FlagScopeWorkspace, ScopeID: &workspaceID, Enabled: false,
		}))

		flag, err := store.GetFeatureFlag(ctx, FlagAuditMode, FlagScopeGlobal, nil)
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.True(t, flag.Enabled)

		flag, err = store.GetFeatureFlag(ctx, FlagAuditMode, FlagScopeWorkspace, &workspaceID)
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.False(t, flag.Enabled)

		missing, err := store.GetFeatureFlag(ctx, "no_such_flag", FlagScopeGlobal, nil)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("membership lifecycle", func(t *testing.T) {
		require.NoError(t, store.UpsertMembership(ctx, &WorkspaceMembership{
			WorkspaceID: 12, UserID: 21, RoleCode: "VIEWER", JoinedAt: time.Now(),
		}))

		m, err := store.GetMembership(ctx, 12, 21)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "VIEWER", m.RoleCode)

		// Upsert replaces the role in place.
		require.NoError(t, store.UpsertMembership(ctx, &WorkspaceMembership{
			WorkspaceID: 12, UserID: 21, RoleCode: "MODERATOR", JoinedAt: time.Now(),
		}))
		m, err = store.GetMembership(ctx, 12, 21)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "MODERATOR", m.RoleCode)

		require.NoError(t, store.RemoveMembership(ctx, 12, 21))
		m, err = store.GetMembership(ctx, 12, 21)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("system role assignment lifecycle", func(t *testing.T) {
		require.NoError(t, store.AssignSystemRole(ctx, 31, SystemRoleWorkspaceManager, nil))

		has, err := store.HasSystemRole(ctx, 31, SystemRoleWorkspaceManager)
		require.NoError(t, err)
		assert.True(t, has)

		roles, err := store.GetSystemRoles(ctx, 31)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.True(t, roles[0].Capabilities["manage_workspaces"])

		require.NoError(t, store.RevokeSystemRole(ctx, 31, SystemRoleWorkspaceManager))
		has, err = store.HasSystemRole(ctx, 31, SystemRoleWorkspaceManager)
		require.NoError(t, err)
		assert.False(t, has)

		err = store.AssignSystemRole(ctx, 31, "NO_SUCH_ROLE", nil)
		require.Error(t, err)
	})

	t.Run("object acls", func(t *testing.T) {
		require.NoError(t, store.CreateObjectACL(ctx, &ObjectACLEntry{
			ObjectType:    "listing",
			ObjectID:      "900",
			PrincipalType: PrincipalUser,
			PrincipalID:   11,
			Permissions:   map[string]bool{"read": true, "share": true},
		}))

		entries, err := store.GetObjectACLs(ctx, "listing", "900")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Permissions["share"])

		require.NoError(t, store.DeleteObjectACLs(ctx, "listing", "900"))
		entries, err = store.GetObjectACLs(ctx, "listing", "900")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("legacy sections round trip", func(t *testing.T) {
		sections := map[string]map[string]bool{
			"listings": {"view": true, "bulk_upload": true},
		}
		require.NoError(t, store.SetLegacySectionPermissions(ctx, 41, sections))

		got, err := store.GetLegacySectionPermissions(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, sections, got)

		// Second write replaces the document.
		require.NoError(t, store.SetLegacySectionPermissions(ctx, 41, map[string]map[string]bool{
			"tasks": {"view": true},
		}))
		got, err = store.GetLegacySectionPermissions(ctx, 41)
		require.NoError(t, err)
		assert.NotContains(t, got, "listings")
	})
}
