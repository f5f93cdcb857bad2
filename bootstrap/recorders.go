package bootstrap

import (
	"context"
	"net/url"
	"time"

	"github.com/mycobrun/cobrun-location/geocoding"
	"github.com/mycobrun/cobrun-location/logging"
)

// lookupRecorders fans each geocoding observation out to every recorder.
type lookupRecorders []geocoding.MetricsRecorder

func (r lookupRecorders) RecordLookup(ctx context.Context, outcome string, elapsed time.Duration) {
	for _, rec := range r {
		rec.RecordLookup(ctx, outcome, elapsed)
	}
}

// dependencyRecorder reports lookups that reached the provider as
// Application Insights dependency calls.
type dependencyRecorder struct {
	client *logging.AppInsightsClient
	target string
}

func newDependencyRecorder(client *logging.AppInsightsClient, endpoint string) dependencyRecorder {
	if endpoint == "" {
		endpoint = geocoding.DefaultEndpoint
	}
	target := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		target = u.Host
	}
	return dependencyRecorder{client: client, target: target}
}

func (d dependencyRecorder) RecordLookup(_ context.Context, outcome string, elapsed time.Duration) {
	switch outcome {
	case geocoding.OutcomeResolved.String(), geocoding.OutcomeNotFound.String():
		d.client.TrackDependency("reverse geocode", "HTTP", d.target, elapsed, true)
	case geocoding.OutcomeFailed.String():
		d.client.TrackDependency("reverse geocode", "HTTP", d.target, elapsed, false)
	}
}
