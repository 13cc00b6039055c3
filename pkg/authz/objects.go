package authz

import (
	"context"
)

// GetObjectPermissions returns the object-level permission names the
// user holds on one object. System administrators hold all of them;
// otherwise grants from matching user principals union together.
// Object ACLs only ever narrow a decision, so an empty map is the
// normal outcome for most objects.
func (e *Engine) GetObjectPermissions(ctx context.Context, user User, objectType, objectID string) (map[string]bool, error) {
	admin, err := e.IsSystemAdmin(ctx, user)
	if err != nil {
		return nil, err
	}
	if admin {
		perms := make(map[string]bool)
		for _, name := range AllObjectPermissions() {
			perms[name] = true
		}
		return perms, nil
	}

	entries, err := e.store.GetObjectACLs(ctx, objectType, objectID)
	if err != nil {
		return nil, err
	}

	perms := make(map[string]bool)
	for _, entry := range entries {
		for name, granted := range e.principalGrants(user, entry) {
			if granted {
				perms[name] = true
			}
		}
	}
	return perms, nil
}

// principalGrants returns the permissions one ACL entry contributes for
// the user.
func (e *Engine) principalGrants(user User, entry ObjectACLEntry) map[string]bool {
	switch entry.PrincipalType {
	case PrincipalUser:
		if entry.PrincipalID == user.ID {
			return entry.Permissions
		}
	case PrincipalWorkspaceRole:
		return e.resolveRolePrincipal(entry)
	case PrincipalTeam:
		// Team membership is not modeled yet; contributes nothing.
		return nil
	}
	return nil
}

// resolveRolePrincipal handles ACL entries granted to a workspace role.
// Deciding them needs the object's owning workspace to check whether
// the user currently holds that role there, and objects do not record
// their workspace. The grant must contribute nothing rather than assume
// the role is held.
func (e *Engine) resolveRolePrincipal(ObjectACLEntry) map[string]bool {
	return nil
}

// CheckObjectAccess reports whether the user holds the named permission
// on an object. The action goes through alias normalization, so "view"
// asks about the "read" grant.
func (e *Engine) CheckObjectAccess(ctx context.Context, user User, objectType, objectID, action string) (bool, error) {
	perms, err := e.GetObjectPermissions(ctx, user, objectType, objectID)
	if err != nil {
		return false, err
	}
	return perms[NormalizeAction(action)], nil
}
