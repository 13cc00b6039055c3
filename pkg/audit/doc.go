// Package audit records access-control decisions for compliance and forensics.
//
// # Overview
//
// Every permission check the decision engine performs produces one audit
// event carrying the requesting user, the workspace and module involved,
// the outcome, the layer that decided it, and a human-readable reason.
// Operator actions (cache clears, override replacements, seeding,
// retention sweeps) are recorded the same way.
//
// # Destinations
//
// Events can be written to PostgreSQL (DBLogger), to local JSON Lines
// files with rotation (FileLogger), or to both at once (MultiLogger).
// The engine swallows audit write failures so a broken sink never
// blocks permission checks; use MultiLogger.GetErrors or the logger
// directly when delivery matters.
//
// # Usage Example
//
// Record a decision:
//
//	event := audit.NewDecisionEvent(ctx, userID, email, "edit", "listing", "42",
//		&workspaceID, "listings", audit.ResultAllowed, "module_rbac", "capability edit granted")
//	_ = logger.Log(ctx, event)
//
// Search the trail:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		WorkspaceID: &workspaceID,
//		Results:     []audit.Result{audit.ResultDenied},
//		Limit:       100,
//	})
//
// # Retention
//
// The Sweeper purges events older than the retention window (default 90
// days). With archiving enabled, expired events are exported (NDJSON or
// CSV) and uploaded to S3 before the purge; a sweep that fails to
// archive purges nothing.
package audit
