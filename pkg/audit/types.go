package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Decision events written by the authorization engine
	EventTypePermissionCheck  EventType = "permission_check"
	EventTypePermissionDenied EventType = "permission_denied"

	// Operator events written by the ops surface and seeding tools
	EventTypeCacheClear      EventType = "ops.cache_clear"
	EventTypeOverrideReplace EventType = "ops.override_replace"
	EventTypeRoleSeed        EventType = "ops.role_seed"
	EventTypeFlagSeed        EventType = "ops.flag_seed"
	EventTypeRetentionPurge  EventType = "ops.retention_purge"
)

// Result represents the outcome recorded on an event. Decision events
// carry allowed/denied/audit_only; operator events carry
// success/failure.
type Result string

const (
	ResultAllowed   Result = "allowed"
	ResultDenied    Result = "denied"
	ResultAuditOnly Result = "audit_only"
	ResultSuccess   Result = "success"
	ResultFailure   Result = "failure"
)

// Well-known resource types recorded on decision events. The column is
// free-form; domain services pass their own object kinds (listing,
// lead, task, ...).
const (
	ResourceTypeSystem    = "system"
	ResourceTypeWorkspace = "workspace"
	ResourceTypeFlag      = "feature_flag"
	ResourceTypeRole      = "workspace_role"
	ResourceTypeOverride  = "permission_override"
)

// Event represents a single audit log entry
type Event struct {
	// Core fields
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Result    Result    `json:"result"`

	// Actor information. UserEmail is denormalized so entries stay
	// readable after the user row is gone.
	UserID    *int64 `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`

	// Decision scope
	WorkspaceID *int64 `json:"workspace_id,omitempty"`
	Module      string `json:"module,omitempty"`
	Action      string `json:"action,omitempty"`

	// Resource information
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Decision metadata: which layer produced the verdict and why.
	// Callers of the engine only see the boolean; operators see these.
	Layer  string `json:"layer,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor filters
	UserID    *int64
	UserEmail string

	// Scope filters
	WorkspaceID *int64
	Module      string
	Action      string

	// Event filters
	EventTypes []EventType
	Results    []Result
	Layer      string

	// Resource filters
	ResourceType string
	ResourceID   string

	// Request context filters
	IPAddress string
	RequestID string

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // field name to sort by
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Stats represents statistics about audit logs
type Stats struct {
	TotalEvents      int64               `json:"total_events"`
	EventsByType     map[EventType]int64 `json:"events_by_type"`
	EventsByResult   map[Result]int64    `json:"events_by_result"`
	EventsByLayer    map[string]int64    `json:"events_by_layer"`
	UniqueUsers      int64               `json:"unique_users"`
	UniqueWorkspaces int64               `json:"unique_workspaces"`
	Denials          int64               `json:"denials"`
	TimeRange        *TimeRange          `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs
	RetentionDays int

	// ArchiveEnabled determines if old logs should be archived before deletion
	ArchiveEnabled bool

	// ArchiveBucket is the object storage bucket for archived logs
	ArchiveBucket string

	// ArchivePrefix is prepended to archive object keys
	ArchivePrefix string

	// ArchiveFormat is the export format for archive objects
	ArchiveFormat ExportFormat
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  90,
		ArchiveEnabled: false,
		ArchivePrefix:  "audit",
		ArchiveFormat:  ExportFormatNDJSON,
	}
}
