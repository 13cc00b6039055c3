package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
)

// Applier writes a validated seed file to the store. All writes are
// upserts keyed on natural identifiers, so repeated runs converge
// instead of duplicating rows.
type Applier struct {
	store  *authz.PostgresStore
	events audit.Logger
	log    *logrus.Logger
}

// NewApplier creates an applier. A nil events logger disables audit
// trail entries for seed runs.
func NewApplier(store *authz.PostgresStore, events audit.Logger, log *logrus.Logger) *Applier {
	if events == nil {
		events = audit.NewNopLogger()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Applier{store: store, events: events, log: log}
}

// Apply writes every section of the seed file in dependency order:
// roles before assignments, workspace roles before their module
// grants. The run is recorded in the audit trail.
func (a *Applier) Apply(ctx context.Context, seed *SeedFile) error {
	for _, role := range seed.SystemRoles {
		if err := a.store.UpsertSystemRole(ctx, role.toRole()); err != nil {
			return fmt.Errorf("system role %s: %w", role.Code, err)
		}
		a.log.WithField("code", role.Code).Debug("Upserted system role")
	}

	for _, assignment := range seed.SystemAssignments {
		if err := a.store.AssignSystemRole(ctx, assignment.UserID, assignment.Role, assignment.AssignedBy); err != nil {
			return fmt.Errorf("assign %s to user %d: %w", assignment.Role, assignment.UserID, err)
		}
		a.log.WithFields(logrus.Fields{
			"user_id": assignment.UserID,
			"role":    assignment.Role,
		}).Debug("Assigned system role")
	}

	roleWrites := len(seed.SystemRoles) + len(seed.SystemAssignments)
	for _, seedRole := range seed.WorkspaceRoles {
		role := seedRole.toRole()
		if err := a.store.UpsertWorkspaceRole(ctx, role); err != nil {
			return fmt.Errorf("workspace role %s: %w", seedRole.Code, err)
		}
		for module, grant := range seedRole.Modules {
			if err := a.store.UpsertModuleCapabilities(ctx, role.ID, module, grant.toCapabilities()); err != nil {
				return fmt.Errorf("workspace role %s module %s: %w", seedRole.Code, module, err)
			}
			roleWrites++
		}
		a.log.WithFields(logrus.Fields{
			"code":    seedRole.Code,
			"modules": len(seedRole.Modules),
		}).Debug("Upserted workspace role")
		roleWrites++
	}

	for _, m := range seed.Memberships {
		membership := &authz.WorkspaceMembership{
			WorkspaceID: m.WorkspaceID,
			UserID:      m.UserID,
			RoleCode:    m.Role,
		}
		if err := a.store.UpsertMembership(ctx, membership); err != nil {
			return fmt.Errorf("membership workspace %d user %d: %w", m.WorkspaceID, m.UserID, err)
		}
		roleWrites++
	}

	for _, legacy := range seed.LegacySections {
		if err := a.store.SetLegacySectionPermissions(ctx, legacy.UserID, legacy.Sections); err != nil {
			return fmt.Errorf("legacy sections for user %d: %w", legacy.UserID, err)
		}
		roleWrites++
	}

	if roleWrites > 0 {
		event := audit.NewOperatorEvent(ctx, audit.EventTypeRoleSeed, nil, audit.ResultSuccess, "role seed applied")
		event.Details = seed.Counts()
		if err := a.events.Log(ctx, event); err != nil {
			a.log.WithError(err).Warn("Failed to record role seed event")
		}
	}

	for _, flag := range seed.FeatureFlags {
		if err := a.store.UpsertFeatureFlag(ctx, flag.toFlag()); err != nil {
			return fmt.Errorf("feature flag %s: %w", flag.Code, err)
		}
		fields := logrus.Fields{
			"code":    flag.Code,
			"scope":   flag.Scope,
			"enabled": flag.Enabled,
		}
		if flag.ScopeID != nil {
			fields["scope_id"] = *flag.ScopeID
		}
		a.log.WithFields(fields).Debug("Upserted feature flag")
	}

	if len(seed.FeatureFlags) > 0 {
		event := audit.NewOperatorEvent(ctx, audit.EventTypeFlagSeed, nil, audit.ResultSuccess, "feature flag seed applied")
		event.Details = map[string]interface{}{"feature_flags": len(seed.FeatureFlags)}
		if err := a.events.Log(ctx, event); err != nil {
			a.log.WithError(err).Warn("Failed to record flag seed event")
		}
	}

	a.log.WithFields(logrus.Fields(seed.Counts())).Info("Seed applied")
	return nil
}
