package authz

import (
	"context"
	"testing"
)

func TestGetObjectPermissions(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	// Grants for the same user union across entries; false grants and
	// other users' entries contribute nothing.
	addObjectACL(t, env.db, "listing", "42", PrincipalUser, 11, map[string]bool{"read": true, "edit": true, "delete": false})
	addObjectACL(t, env.db, "listing", "42", PrincipalUser, 11, map[string]bool{"share": true})
	addObjectACL(t, env.db, "listing", "42", PrincipalUser, 99, map[string]bool{"admin": true})

	perms, err := env.engine.GetObjectPermissions(ctx, User{ID: 11}, "listing", "42")
	if err != nil {
		t.Fatalf("GetObjectPermissions failed: %v", err)
	}

	for _, name := range []string{"read", "edit", "share"} {
		if !perms[name] {
			t.Errorf("Expected %s grant, got %v", name, perms)
		}
	}
	for _, name := range []string{"delete", "admin"} {
		if perms[name] {
			t.Errorf("Expected no %s grant, got %v", name, perms)
		}
	}

	// Objects without entries yield an empty map.
	perms, err = env.engine.GetObjectPermissions(ctx, User{ID: 11}, "listing", "43")
	if err != nil {
		t.Fatalf("GetObjectPermissions failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("Expected no grants on an unlisted object, got %v", perms)
	}
}

func TestGetObjectPermissionsSystemAdmin(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	grantSystemRole(t, env.db, 1, SystemRoleAdmin)

	perms, err := env.engine.GetObjectPermissions(ctx, User{ID: 1}, "listing", "42")
	if err != nil {
		t.Fatalf("GetObjectPermissions failed: %v", err)
	}
	for _, name := range AllObjectPermissions() {
		if !perms[name] {
			t.Errorf("Expected system admin to hold %s", name)
		}
	}
}

func TestCheckObjectAccess(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	addObjectACL(t, env.db, "document", "abc", PrincipalUser, 11, map[string]bool{"read": true})

	ok, err := env.engine.CheckObjectAccess(ctx, User{ID: 11}, "document", "abc", "read")
	if err != nil {
		t.Fatalf("CheckObjectAccess failed: %v", err)
	}
	if !ok {
		t.Error("Expected granted permission to pass")
	}

	// The view alias asks about the read grant.
	ok, err = env.engine.CheckObjectAccess(ctx, User{ID: 11}, "document", "abc", "view")
	if err != nil {
		t.Fatalf("CheckObjectAccess failed: %v", err)
	}
	if !ok {
		t.Error("Expected view alias to resolve the read grant")
	}

	ok, err = env.engine.CheckObjectAccess(ctx, User{ID: 11}, "document", "abc", "edit")
	if err != nil {
		t.Fatalf("CheckObjectAccess failed: %v", err)
	}
	if ok {
		t.Error("Expected ungranted permission to fail")
	}
}

func TestObjectNonUserPrincipalsContributeNothing(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	seedRoleTemplates(t, env.db)
	addMember(t, env.db, 7, 11, "MEMBER")

	var roleID int64
	if err := env.db.QueryRow(`SELECT id FROM workspace_roles WHERE workspace_id IS NULL AND code = ?`, RoleMember).Scan(&roleID); err != nil {
		t.Fatalf("Failed to look up role id: %v", err)
	}

	// Role principals cannot be attributed to a workspace and team
	// principals are not modeled; both fail closed.
	addObjectACL(t, env.db, "listing", "50", PrincipalWorkspaceRole, roleID, map[string]bool{"read": true})
	addObjectACL(t, env.db, "listing", "50", PrincipalTeam, 5, map[string]bool{"read": true})

	perms, err := env.engine.GetObjectPermissions(ctx, User{ID: 11}, "listing", "50")
	if err != nil {
		t.Fatalf("GetObjectPermissions failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("Expected non-user principals to grant nothing, got %v", perms)
	}
}
