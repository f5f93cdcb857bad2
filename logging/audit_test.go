package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type recordingSink struct {
	mu     sync.Mutex
	events []map[string]string
	names  []string
}

func (s *recordingSink) TrackEvent(name string, properties map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.events = append(s.events, properties)
}

func newTestAuditLogger(sink AuditSink) (*AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewAuditLogger(AuditLoggerConfig{
		ServiceName: "location-api",
		Environment: "test",
		Logger:      NewLoggerWithWriter(&buf, "info"),
		Sink:        sink,
	})
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	return entry
}

func TestAuditLogger_LogLocation(t *testing.T) {
	sink := &recordingSink{}
	l, buf := newTestAuditLogger(sink)

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	l.LogLocation(context.Background(), req, AuditEventLocationCreated, "loc-1", AuditOutcomeSuccess,
		map[string]string{"srid": "4326"})

	entry := decodeLine(t, buf)
	if entry["msg"] != "audit_event" || entry["audit"] != true {
		t.Errorf("entry = %v", entry)
	}
	if entry["event_type"] != string(AuditEventLocationCreated) || entry["outcome"] != "success" {
		t.Errorf("entry = %v", entry)
	}
	if entry["resource_id"] != "loc-1" || entry["resource_type"] != "location" {
		t.Errorf("resource = %v / %v", entry["resource_type"], entry["resource_id"])
	}
	request, _ := entry["request"].(map[string]any)
	if request["client_ip"] != "203.0.113.7" || request["request_id"] != "req-1" {
		t.Errorf("request = %v", request)
	}
	details, _ := entry["details"].(map[string]any)
	if details["srid"] != "4326" {
		t.Errorf("details = %v", details)
	}

	if len(sink.names) != 1 || sink.names[0] != string(AuditEventLocationCreated) {
		t.Fatalf("sink names = %v", sink.names)
	}
	props := sink.events[0]
	if props["resource_id"] != "loc-1" || props["detail.srid"] != "4326" || props["service"] != "location-api" {
		t.Errorf("sink properties = %v", props)
	}
	if props["event_id"] == "" {
		t.Error("event ID should be generated")
	}
}

func TestAuditLogger_LogRateLimited(t *testing.T) {
	l, buf := newTestAuditLogger(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/geocode/reverse", nil)
	req.RemoteAddr = "198.51.100.2:4321"
	l.LogRateLimited(context.Background(), req, "198.51.100.2")

	entry := decodeLine(t, buf)
	if entry["event_type"] != string(AuditEventRateLimitExceeded) || entry["outcome"] != "denied" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["resource_id"]; ok {
		t.Error("rate limit events have no resource")
	}
	request, _ := entry["request"].(map[string]any)
	if request["client_ip"] != "198.51.100.2" {
		t.Errorf("client_ip = %v", request["client_ip"])
	}
}

func TestAuditLogger_TraceID(t *testing.T) {
	l, buf := newTestAuditLogger(nil)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	l.LogLocation(ctx, httptest.NewRequest(http.MethodPost, "/v1/locations", nil), AuditEventLocationCreated, "x", AuditOutcomeSuccess, nil)

	request, _ := decodeLine(t, buf)["request"].(map[string]any)
	if request["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace_id = %v", request["trace_id"])
	}
}

func TestAuditLogger_Nil(t *testing.T) {
	var l *AuditLogger
	l.LogLocation(context.Background(), nil, AuditEventLocationCreated, "x", AuditOutcomeSuccess, nil)
	l.LogRateLimited(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), "k")
}

func TestTraceIDFromContext_Empty(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext() = %q", got)
	}
}
