package logging

import (
	"time"

	"github.com/microsoft/ApplicationInsights-Go/appinsights"
)

// AppInsightsClient forwards audit events and provider calls to Azure
// Application Insights. A nil client discards everything.
type AppInsightsClient struct {
	client appinsights.TelemetryClient
}

// AppInsightsConfig configures the client.
type AppInsightsConfig struct {
	InstrumentationKey string
	// Endpoint overrides the ingestion URL.
	Endpoint      string
	BatchSize     int
	BatchInterval time.Duration
	Role          string
	Version       string
}

// NewAppInsightsClient creates a client, or returns nil when no
// instrumentation key is configured.
func NewAppInsightsClient(config AppInsightsConfig) *AppInsightsClient {
	if config.InstrumentationKey == "" {
		return nil
	}

	tc := appinsights.NewTelemetryConfiguration(config.InstrumentationKey)
	tc.MaxBatchSize = 8192
	tc.MaxBatchInterval = 2 * time.Second
	if config.BatchSize > 0 {
		tc.MaxBatchSize = config.BatchSize
	}
	if config.BatchInterval > 0 {
		tc.MaxBatchInterval = config.BatchInterval
	}
	if config.Endpoint != "" {
		tc.EndpointUrl = config.Endpoint
	}

	client := appinsights.NewTelemetryClientFromConfig(tc)
	if config.Role != "" {
		client.Context().Tags.Cloud().SetRole(config.Role)
	}
	if config.Version != "" {
		client.Context().Tags.Application().SetVer(config.Version)
	}

	return &AppInsightsClient{client: client}
}

// TrackEvent tracks a custom event. It satisfies AuditSink.
func (c *AppInsightsClient) TrackEvent(name string, properties map[string]string) {
	if c == nil || c.client == nil {
		return
	}
	event := appinsights.NewEventTelemetry(name)
	for k, v := range properties {
		event.Properties[k] = v
	}
	c.client.Track(event)
}

// TrackDependency tracks a call to a downstream dependency.
func (c *AppInsightsClient) TrackDependency(name, dependencyType, target string, duration time.Duration, success bool) {
	if c == nil || c.client == nil {
		return
	}
	dependency := appinsights.NewRemoteDependencyTelemetry(name, dependencyType, target, success)
	dependency.Duration = duration
	c.client.Track(dependency)
}

// Close flushes pending telemetry and waits up to timeout for it to be
// sent.
func (c *AppInsightsClient) Close(timeout time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	select {
	case <-c.client.Channel().Close(timeout):
	case <-time.After(timeout + time.Second):
	}
}
