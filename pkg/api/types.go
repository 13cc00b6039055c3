package api

import (
	"context"
	"time"

	"github.com/casagrid/gatehouse/pkg/audit"
)

// AuditReader is the read surface of the audit trail the API serves.
// *audit.DBLogger satisfies it.
type AuditReader interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*audit.Stats, error)
}

// CheckAccessRequest is the body of POST /v1/access/check. Audit
// defaults to false so support dry-runs do not pollute the trail.
type CheckAccessRequest struct {
	UserID       int64  `json:"user_id"`
	UserEmail    string `json:"user_email,omitempty"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	WorkspaceID  *int64 `json:"workspace_id,omitempty"`
	Module       string `json:"module,omitempty"`
	Audit        bool   `json:"audit,omitempty"`
}

// CheckAccessResponse echoes the checked coordinates with the verdict.
// Layer and reason stay in the audit trail; callers get the boolean.
type CheckAccessResponse struct {
	Allowed      bool      `json:"allowed"`
	UserID       int64     `json:"user_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	WorkspaceID  *int64    `json:"workspace_id,omitempty"`
	Module       string    `json:"module,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// ClearCacheRequest is the body of POST /v1/cache/clear. Both filters
// nil clears every cached entry.
type ClearCacheRequest struct {
	UserID      *int64 `json:"user_id,omitempty"`
	WorkspaceID *int64 `json:"workspace_id,omitempty"`
}

// ClearCacheResponse reports how many entries the clear removed.
type ClearCacheResponse struct {
	Cleared     int       `json:"cleared_entries"`
	UserID      *int64    `json:"user_id,omitempty"`
	WorkspaceID *int64    `json:"workspace_id,omitempty"`
	ClearedAt   time.Time `json:"cleared_at"`
}

// AuditEventsResponse is the JSON envelope of GET /v1/audit/events.
type AuditEventsResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
