package bootstrap

import (
	"context"
	"testing"
	"time"
)

type countingRecorder struct{ outcomes []string }

func (c *countingRecorder) RecordLookup(_ context.Context, outcome string, _ time.Duration) {
	c.outcomes = append(c.outcomes, outcome)
}

func TestLookupRecorders(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	lookupRecorders{a, b}.RecordLookup(context.Background(), "resolved", time.Millisecond)

	if len(a.outcomes) != 1 || len(b.outcomes) != 1 || b.outcomes[0] != "resolved" {
		t.Errorf("outcomes = %v, %v", a.outcomes, b.outcomes)
	}
}

func TestNewDependencyRecorder(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"", "maps.googleapis.com"},
		{"http://127.0.0.1:9999/geocode", "127.0.0.1:9999"},
	}
	for _, tt := range tests {
		d := newDependencyRecorder(nil, tt.endpoint)
		if d.target != tt.want {
			t.Errorf("target(%q) = %q, want %q", tt.endpoint, d.target, tt.want)
		}
		// A nil client discards.
		d.RecordLookup(context.Background(), "failed", time.Millisecond)
	}
}
