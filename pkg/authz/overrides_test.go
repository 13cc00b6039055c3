package authz

import (
	"context"
	"testing"

	"github.com/casagrid/gatehouse/pkg/audit"
)

func TestCheckWorkspaceModuleActionPrecedence(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")

	// Member baseline: edit allowed, delete denied. Overrides decide
	// first in every combination; absence falls back to the baseline.
	addOverrideRow(t, env.db, 7, 11, "listings", "delete", EffectAllow)
	addOverrideRow(t, env.db, 7, 11, "listings", "edit", EffectDeny)
	addOverrideRow(t, env.db, 7, 11, "listings", "read", EffectAllow)
	addOverrideRow(t, env.db, 7, 11, "listings", "publish", EffectDeny)

	cases := []struct {
		name    string
		action  string
		allowed bool
	}{
		{"baseline allow, no override", "create", true},
		{"baseline deny, no override", "bulk", false},
		{"baseline deny, allow override", "delete", true},
		{"baseline allow, deny override", "edit", false},
		{"baseline allow, allow override", "read", true},
		{"baseline deny, deny override", "publish", false},
	}

	for _, tc := range cases {
		allowed, err := env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 11}, 7, "listings", tc.action)
		if err != nil {
			t.Fatalf("%s: CheckWorkspaceModuleAction failed: %v", tc.name, err)
		}
		if allowed != tc.allowed {
			t.Errorf("%s: expected allowed=%v, got %v", tc.name, tc.allowed, allowed)
		}
	}
}

func TestCheckWorkspaceModuleActionOverridesFirst(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	grantSystemRole(t, env.db, 1, SystemRoleAdmin)
	addOverrideRow(t, env.db, 7, 1, "listings", "delete", EffectDeny)

	// The standalone module check consults overrides before any
	// baseline, including the admin one. Only CheckAccess bypasses for
	// system admins.
	allowed, err := env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 1}, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if allowed {
		t.Error("Expected deny override to decide before the admin baseline")
	}

	allowed, err = env.engine.CheckAccess(ctx, AccessRequest{
		User:        User{ID: 1},
		Action:      "delete",
		WorkspaceID: i64(7),
		Module:      "listings",
		SkipAudit:   true,
	})
	if err != nil {
		t.Fatalf("CheckAccess failed: %v", err)
	}
	if !allowed {
		t.Error("Expected the full decision path to bypass for system admins")
	}
}

func TestOverrideReplaceFlow(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	enableEnforcement(t, env.db)
	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")
	member := User{ID: 11}

	// Baseline denies delete for members.
	allowed, err := env.engine.CheckWorkspaceModuleAction(ctx, member, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if allowed {
		t.Error("Expected baseline to deny member delete")
	}

	// An allow override flips it.
	_, err = env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "delete", Effect: EffectAllow},
	}, i64(3))
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}

	allowed, err = env.engine.CheckWorkspaceModuleAction(ctx, member, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if !allowed {
		t.Error("Expected allow override to grant delete")
	}

	// Replacing with a deny leaves exactly one row and flips it back.
	inserted, err := env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "delete", Effect: EffectDeny},
	}, i64(3))
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("Expected one override row, got %d", len(inserted))
	}

	rows, err := env.engine.ListUserOverrides(ctx, 7, 11)
	if err != nil {
		t.Fatalf("ListUserOverrides failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected one stored row, got %d", len(rows))
	}
	if rows[0].Effect != EffectDeny {
		t.Errorf("Expected deny effect, got %s", rows[0].Effect)
	}

	allowed, err = env.engine.CheckWorkspaceModuleAction(ctx, member, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if allowed {
		t.Error("Expected deny override to block delete")
	}

	// Replaying the same replace is idempotent.
	inserted, err = env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "delete", Effect: EffectDeny},
	}, i64(3))
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("Expected replay to keep one row, got %d", len(inserted))
	}

	allowed, err = env.engine.CheckWorkspaceModuleAction(ctx, member, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if allowed {
		t.Error("Expected verdict to be unchanged after replay")
	}
}

func TestReplaceUserOverridesNormalization(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")

	// Aliases fold to canonical names before storage.
	inserted, err := env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "Listings", Action: "View", Effect: EffectAllow},
	}, nil)
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("Expected one row, got %d", len(inserted))
	}
	if inserted[0].Module != "listings" || inserted[0].Action != "read" {
		t.Errorf("Expected normalized listings/read, got %s/%s", inserted[0].Module, inserted[0].Action)
	}

	// Rows colliding after normalization collapse with deny winning,
	// regardless of input order.
	inserted, err = env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "view", Effect: EffectAllow},
		{Module: "listings", Action: "read", Effect: EffectDeny},
	}, nil)
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("Expected collision to collapse to one row, got %d", len(inserted))
	}
	if inserted[0].Effect != EffectDeny {
		t.Errorf("Expected deny to win the collision, got %s", inserted[0].Effect)
	}

	inserted, err = env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "read", Effect: EffectDeny},
		{Module: "listings", Action: "view", Effect: EffectAllow},
	}, nil)
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}
	if len(inserted) != 1 || inserted[0].Effect != EffectDeny {
		t.Errorf("Expected deny to win in either order, got %+v", inserted)
	}
}

func TestReplaceUserOverridesValidation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	_, err := env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "", Action: "read", Effect: EffectAllow},
	}, nil)
	if err == nil {
		t.Error("Expected error for a row without a module")
	}

	_, err = env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "read", Effect: Effect("maybe")},
	}, nil)
	if err == nil {
		t.Error("Expected error for an invalid effect")
	}

	// Nothing was stored by the rejected calls.
	rows, err := env.engine.ListUserOverrides(ctx, 7, 11)
	if err != nil {
		t.Fatalf("ListUserOverrides failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no rows after rejected input, got %d", len(rows))
	}
}

func TestReplaceUserOverridesInvalidatesCache(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")

	// Warm the override cache with the empty set.
	allowed, err := env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 11}, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if allowed {
		t.Error("Expected baseline deny before the override")
	}

	_, err = env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "delete", Effect: EffectAllow},
	}, nil)
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}

	allowed, err = env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 11}, 7, "listings", "delete")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if !allowed {
		t.Error("Expected the replace to invalidate the cached override set")
	}
}

func TestReplaceUserOverridesAuditEvent(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")

	_, err := env.engine.ReplaceUserOverrides(ctx, 7, 11, []OverrideInput{
		{Module: "listings", Action: "delete", Effect: EffectAllow},
		{Module: "leads", Action: "assign", Effect: EffectDeny},
	}, i64(3))
	if err != nil {
		t.Fatalf("ReplaceUserOverrides failed: %v", err)
	}

	entry := env.audit.last()
	if entry == nil {
		t.Fatal("Expected an operator audit entry")
	}
	if entry.EventType != audit.EventTypeOverrideReplace {
		t.Errorf("Expected override replace event, got %s", entry.EventType)
	}
	if entry.Result != audit.ResultSuccess {
		t.Errorf("Expected success result, got %s", entry.Result)
	}
	if entry.UserID == nil || *entry.UserID != 3 {
		t.Error("Expected the acting user on the entry")
	}
	if entry.WorkspaceID == nil || *entry.WorkspaceID != 7 {
		t.Error("Expected the workspace on the entry")
	}
	if entry.Details["target_user_id"] != int64(11) {
		t.Errorf("Expected target user in details, got %v", entry.Details["target_user_id"])
	}
	if entry.Details["override_count"] != 2 {
		t.Errorf("Expected override count in details, got %v", entry.Details["override_count"])
	}
}

func TestUserOverridesAliasReadPath(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")

	// Rows stored before normalization existed still fold on read.
	addOverrideRow(t, env.db, 7, 11, "listings", "bulk_upload", EffectAllow)

	overrides, err := env.engine.GetUserOverrides(ctx, 7, 11, "listings")
	if err != nil {
		t.Fatalf("GetUserOverrides failed: %v", err)
	}
	if overrides["bulk"] != EffectAllow {
		t.Errorf("Expected bulk_upload row keyed as bulk, got %v", overrides)
	}

	// Both spellings of the action resolve the override.
	for _, action := range []string{"bulk", "bulk_upload"} {
		allowed, err := env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 11}, 7, "listings", action)
		if err != nil {
			t.Fatalf("CheckWorkspaceModuleAction(%s) failed: %v", action, err)
		}
		if !allowed {
			t.Errorf("Expected %s to resolve the stored override", action)
		}
	}

	// Legacy rows colliding after the fold resolve with deny winning.
	addOverrideRow(t, env.db, 7, 11, "listings", "view", EffectAllow)
	addOverrideRow(t, env.db, 7, 11, "listings", "read", EffectDeny)

	allowed, err := env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 11}, 7, "listings", "read")
	if err != nil {
		t.Fatalf("CheckWorkspaceModuleAction failed: %v", err)
	}
	if allowed {
		t.Error("Expected deny to win the folded collision")
	}
}

func TestEffectiveCapabilitiesAgreeWithChecks(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")
	addOverrideRow(t, env.db, 7, 11, "listings", "delete", EffectAllow)
	addOverrideRow(t, env.db, 7, 11, "listings", "edit", EffectDeny)

	caps, err := env.engine.GetEffectiveModuleCapabilities(ctx, User{ID: 11}, i64(7), "listings")
	if err != nil {
		t.Fatalf("GetEffectiveModuleCapabilities failed: %v", err)
	}

	for action, want := range caps.ActionMap() {
		got, err := env.engine.CheckWorkspaceModuleAction(ctx, User{ID: 11}, 7, "listings", action)
		if err != nil {
			t.Fatalf("CheckWorkspaceModuleAction(%s) failed: %v", action, err)
		}
		if got != want {
			t.Errorf("action %s: effective map says %v, check says %v", action, want, got)
		}
	}
}
