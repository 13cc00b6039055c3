package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	// Ensure the audit_logs table exists
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		result VARCHAR(20) NOT NULL,
		user_id BIGINT,
		user_email VARCHAR(255),
		workspace_id BIGINT,
		module VARCHAR(50),
		action VARCHAR(100),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		layer VARCHAR(50),
		reason TEXT,
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		details JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_workspace_id ON audit_logs(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_result ON audit_logs(result);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_request_id ON audit_logs(request_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var detailsJSON []byte
	var err error

	if event.Details != nil {
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, result,
			user_id, user_email, workspace_id,
			module, action,
			resource_type, resource_id,
			layer, reason,
			ip_address, user_agent, request_id,
			details
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10,
			$11, $12,
			$13, $14, $15,
			$16
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Result,
		event.UserID, event.UserEmail, event.WorkspaceID,
		event.Module, event.Action,
		event.ResourceType, event.ResourceID,
		event.Layer, event.Reason,
		event.IPAddress, event.UserAgent, event.RequestID,
		detailsJSON,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// sortColumns is the allowlist for Search ordering. SortBy values not
// listed here fall back to timestamp.
var sortColumns = map[string]string{
	"id":           "id",
	"timestamp":    "timestamp",
	"event_type":   "event_type",
	"result":       "result",
	"user_id":      "user_id",
	"workspace_id": "workspace_id",
	"module":       "module",
	"action":       "action",
}

// Search searches audit logs based on filters
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, timestamp, event_type, result,
			user_id, user_email, workspace_id,
			module, action,
			resource_type, resource_id,
			layer, reason,
			ip_address, user_agent, request_id,
			details
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	// Build WHERE clause based on filters
	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.UserEmail != "" {
		query += fmt.Sprintf(" AND user_email = $%d", argCount)
		args = append(args, filter.UserEmail)
		argCount++
	}

	if filter.WorkspaceID != nil {
		query += fmt.Sprintf(" AND workspace_id = $%d", argCount)
		args = append(args, *filter.WorkspaceID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if len(filter.Results) > 0 {
		query += fmt.Sprintf(" AND result = ANY($%d)", argCount)
		resultStrs := make([]string, len(filter.Results))
		for i, res := range filter.Results {
			resultStrs[i] = string(res)
		}
		args = append(args, pq.Array(resultStrs))
		argCount++
	}

	if filter.Module != "" {
		query += fmt.Sprintf(" AND module = $%d", argCount)
		args = append(args, filter.Module)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.Layer != "" {
		query += fmt.Sprintf(" AND layer = $%d", argCount)
		args = append(args, filter.Layer)
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.IPAddress != "" {
		query += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IPAddress)
		argCount++
	}

	if filter.RequestID != "" {
		query += fmt.Sprintf(" AND request_id = $%d", argCount)
		args = append(args, filter.RequestID)
		argCount++
	}

	// Add sorting. Column names come from the allowlist, never from
	// the caller directly.
	if col, ok := sortColumns[filter.SortBy]; ok {
		order := "DESC"
		if filter.SortOrder == "asc" {
			order = "ASC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s", col, order)
	} else {
		query += " ORDER BY timestamp DESC"
	}

	// Add pagination
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Get retrieves a specific audit event by ID
func (l *DBLogger) Get(ctx context.Context, id int64) (*Event, error) {
	query := `
		SELECT
			id, timestamp, event_type, result,
			user_id, user_email, workspace_id,
			module, action,
			resource_type, resource_id,
			layer, reason,
			ip_address, user_agent, request_id,
			details
		FROM audit_logs
		WHERE id = $1
	`

	row := l.db.QueryRowContext(ctx, query, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	event := &Event{}
	var detailsJSON []byte

	err := row.Scan(
		&event.ID, &event.Timestamp, &event.EventType, &event.Result,
		&event.UserID, &event.UserEmail, &event.WorkspaceID,
		&event.Module, &event.Action,
		&event.ResourceType, &event.ResourceID,
		&event.Layer, &event.Reason,
		&event.IPAddress, &event.UserAgent, &event.RequestID,
		&detailsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	if len(detailsJSON) > 0 {
		event.Details = make(map[string]interface{})
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}

	return event, nil
}

// GetStats retrieves audit log statistics
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EventsByType:   make(map[EventType]int64),
		EventsByResult: make(map[Result]int64),
		EventsByLayer:  make(map[string]int64),
	}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.Start = *startTime
	}

	if endTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.End = *endTime
	}

	// Total events
	err := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", whereClause), args...).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	// Events by type
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("SELECT event_type, COUNT(*) FROM audit_logs %s GROUP BY event_type", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType EventType
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.EventsByType[eventType] = count
	}

	// Events by result
	rows, err = l.db.QueryContext(ctx, fmt.Sprintf("SELECT result, COUNT(*) FROM audit_logs %s GROUP BY result", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by result: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result Result
		var count int64
		if err := rows.Scan(&result, &count); err != nil {
			return nil, err
		}
		stats.EventsByResult[result] = count
	}

	// Events by deciding layer
	rows, err = l.db.QueryContext(ctx, fmt.Sprintf("SELECT layer, COUNT(*) FROM audit_logs %s AND layer <> '' GROUP BY layer", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by layer: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var layer string
		var count int64
		if err := rows.Scan(&layer, &count); err != nil {
			return nil, err
		}
		stats.EventsByLayer[layer] = count
	}

	// Unique users
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT user_id) FROM audit_logs %s AND user_id IS NOT NULL", whereClause), args...).Scan(&stats.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique users: %w", err)
	}

	// Unique workspaces
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT workspace_id) FROM audit_logs %s AND workspace_id IS NOT NULL", whereClause), args...).Scan(&stats.UniqueWorkspaces)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique workspaces: %w", err)
	}

	// Denials
	deniedClause := whereClause + " AND result = 'denied'"
	err = l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", deniedClause), args...).Scan(&stats.Denials)
	if err != nil {
		return nil, fmt.Errorf("failed to get denials: %w", err)
	}

	return stats, nil
}

// Purge deletes audit logs with a timestamp before the cutoff and
// returns how many rows were removed
func (l *DBLogger) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// We don't close the database connection as it may be shared
	return nil
}
