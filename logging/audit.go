package logging

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Location events
	AuditEventLocationCreated        AuditEventType = "location.created"
	AuditEventLocationAddressUpdated AuditEventType = "location.address_updated"

	// Security events
	AuditEventRateLimitExceeded AuditEventType = "security.rate_limit"
)

// AuditOutcome represents the outcome of an action.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        AuditEventType    `json:"type"`
	Resource    *AuditResource    `json:"resource,omitempty"`
	Outcome     AuditOutcome      `json:"outcome"`
	Details     map[string]string `json:"details,omitempty"`
	Request     *AuditRequest     `json:"request,omitempty"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
}

// AuditResource represents the resource affected by the action.
type AuditResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AuditRequest is the HTTP request that caused an event.
type AuditRequest struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	ClientIP  string `json:"client_ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AuditSink receives every audit event after it is logged.
type AuditSink interface {
	TrackEvent(name string, properties map[string]string)
}

// AuditLogger writes audit events as structured log records.
type AuditLogger struct {
	logger      *Logger
	sink        AuditSink
	service     string
	environment string
	now         func() time.Time
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	ServiceName string
	Environment string
	Logger      *Logger
	// Sink optionally forwards events, e.g. to Application Insights.
	Sink AuditSink
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config AuditLoggerConfig) *AuditLogger {
	return &AuditLogger{
		logger:      OrNop(config.Logger).With("audit", true),
		sink:        config.Sink,
		service:     config.ServiceName,
		environment: config.Environment,
		now:         time.Now,
	}
}

// Log logs an audit event. A nil AuditLogger discards events.
func (l *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if l == nil {
		return
	}

	event.Service = l.service
	event.Environment = l.environment
	event.Timestamp = l.now().UTC()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Request != nil && event.Request.TraceID == "" {
		event.Request.TraceID = TraceIDFromContext(ctx)
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("outcome", string(event.Outcome)),
	}
	if event.Resource != nil {
		attrs = append(attrs, slog.String("resource_type", event.Resource.Type), slog.String("resource_id", event.Resource.ID))
	}
	if event.Request != nil {
		attrs = append(attrs, slog.Group("request",
			slog.String("method", event.Request.Method),
			slog.String("path", event.Request.Path),
			slog.String("client_ip", event.Request.ClientIP),
			slog.String("request_id", event.Request.RequestID),
			slog.String("trace_id", event.Request.TraceID),
		))
	}
	if len(event.Details) > 0 {
		details := make([]any, 0, len(event.Details))
		for k, v := range event.Details {
			details = append(details, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", attrs...)

	if l.sink != nil {
		l.sink.TrackEvent(string(event.Type), event.properties())
	}
}

func (e AuditEvent) properties() map[string]string {
	props := map[string]string{
		"event_id":    e.ID,
		"outcome":     string(e.Outcome),
		"service":     e.Service,
		"environment": e.Environment,
	}
	if e.Resource != nil {
		props["resource_type"] = e.Resource.Type
		props["resource_id"] = e.Resource.ID
	}
	if e.Request != nil {
		props["request_id"] = e.Request.RequestID
		props["trace_id"] = e.Request.TraceID
	}
	for k, v := range e.Details {
		props["detail."+k] = v
	}
	return props
}

// LogLocation logs an event about a stored location.
func (l *AuditLogger) LogLocation(ctx context.Context, r *http.Request, eventType AuditEventType, locationID string, outcome AuditOutcome, details map[string]string) {
	event := AuditEvent{
		Type:    eventType,
		Outcome: outcome,
		Details: details,
	}
	if locationID != "" {
		event.Resource = &AuditResource{Type: "location", ID: locationID}
	}
	if r != nil {
		event.Request = requestOf(r)
	}
	l.Log(ctx, event)
}

// LogRateLimited logs a request rejected by the rate limiter.
func (l *AuditLogger) LogRateLimited(ctx context.Context, r *http.Request, key string) {
	l.Log(ctx, AuditEvent{
		Type:    AuditEventRateLimitExceeded,
		Outcome: AuditOutcomeDenied,
		Details: map[string]string{"key": key},
		Request: requestOf(r),
	})
}

func requestOf(r *http.Request) *AuditRequest {
	return &AuditRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		ClientIP:  clientIP(r),
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// TraceIDFromContext returns the active OpenTelemetry trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
