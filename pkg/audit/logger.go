package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Logger is the interface for audit logging. The authorization engine
// treats it as append-only fire-and-forget: write failures are counted
// but never fail a decision.
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const (
	// loggerKey is the context key for the audit logger
	loggerKey contextKey = "audit_logger"

	// requestIDKey is the context key for the request correlation ID
	requestIDKey contextKey = "audit_request_id"

	// requestInfoKey is the context key for captured HTTP request info
	requestInfoKey contextKey = "audit_request_info"
)

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	// Return a no-op logger if none is set
	return &noOpLogger{}
}

// WithRequestID adds a request correlation ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request correlation ID, or ""
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestInfo carries the HTTP request fields worth recording on audit
// events. It is captured once at the edge so the engine, which never
// sees *http.Request, can still stamp entries.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// WithRequestInfo attaches captured request info to the context
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// RequestInfoFromContext retrieves captured request info, zero if unset
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	if info, ok := ctx.Value(requestInfoKey).(RequestInfo); ok {
		return info
	}
	return RequestInfo{}
}

// CaptureRequest extracts the audit-relevant fields from an HTTP
// request and returns a context carrying them plus a correlation ID
// (reusing the X-Request-ID header when the caller supplied one).
func CaptureRequest(ctx context.Context, r *http.Request) context.Context {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = WithRequestID(ctx, requestID)
	return WithRequestInfo(ctx, RequestInfo{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// ClientIP extracts the client IP from the request
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	return r.RemoteAddr
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// NewNopLogger returns a logger that discards every event
func NewNopLogger() Logger {
	return &noOpLogger{}
}

// NewEvent creates an audit event with timestamp and request context
// populated from ctx
func NewEvent(ctx context.Context, eventType EventType, result Result) *Event {
	info := RequestInfoFromContext(ctx)
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    result,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		RequestID: RequestIDFromContext(ctx),
		Details:   make(map[string]interface{}),
	}
}

// NewDecisionEvent builds the single entry the engine writes per
// audited access check. Denied decisions use the permission_denied
// event type so operator dashboards can filter on it directly.
func NewDecisionEvent(ctx context.Context, userID int64, userEmail string, action, resourceType, resourceID string, workspaceID *int64, module string, result Result, layer, reason string) *Event {
	eventType := EventTypePermissionCheck
	if result == ResultDenied {
		eventType = EventTypePermissionDenied
	}

	event := NewEvent(ctx, eventType, result)
	event.UserID = &userID
	event.UserEmail = userEmail
	event.Action = action
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.WorkspaceID = workspaceID
	event.Module = module
	event.Layer = layer
	event.Reason = reason
	event.Details["action_requested"] = action
	return event
}

// NewOperatorEvent builds an entry for an operator action (cache
// clears, seeding runs, retention sweeps).
func NewOperatorEvent(ctx context.Context, eventType EventType, userID *int64, result Result, reason string) *Event {
	event := NewEvent(ctx, eventType, result)
	event.UserID = userID
	event.Reason = reason
	return event
}
