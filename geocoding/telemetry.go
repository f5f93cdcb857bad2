package geocoding

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/cobrun-location/geo"
)

// Tracer wraps an OpenTelemetry tracer for geocoding operations. A nil
// Tracer is valid and records nothing.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping an OpenTelemetry tracer.
func NewTracer(tracer trace.Tracer) *Tracer {
	if tracer == nil {
		return nil
	}
	return &Tracer{tracer: tracer}
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// End ends the span.
func (s *Span) End() {
	if s.span != nil {
		s.span.End()
	}
}

// RecordError records an error on the span.
func (s *Span) RecordError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

// SetAttributes sets attributes on the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s.span != nil {
		s.span.SetAttributes(attrs...)
	}
}

// StartSpan starts a span tagged with the coordinate being resolved.
func (t *Tracer) StartSpan(ctx context.Context, name string, c geo.Coordinate, kind trace.SpanKind) (context.Context, *Span) {
	if t == nil || t.tracer == nil {
		return ctx, &Span{}
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("geocoding.provider", "google"),
			attribute.Float64("geocoding.lat", c.Latitude),
			attribute.Float64("geocoding.lng", c.Longitude),
		),
	)

	return ctx, &Span{span: span}
}

// OutcomeAttribute labels a span or metric with a lookup outcome.
func OutcomeAttribute(o Outcome) attribute.KeyValue {
	return attribute.String("geocoding.outcome", o.String())
}
