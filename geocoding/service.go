package geocoding

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/logging"
)

// ErrInvalidCoordinate is reported for coordinates that fail range checks.
// The provider is never called for them.
var ErrInvalidCoordinate = errors.New("geocoding: coordinate out of range")

// Outcome classifies a lookup.
type Outcome int

const (
	OutcomeCacheHit Outcome = iota + 1
	OutcomeResolved
	OutcomeNotFound
	OutcomeFailed
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCacheHit:
		return "cache_hit"
	case OutcomeResolved:
		return "resolved"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result is the full outcome of a lookup. Address is set only for
// OutcomeCacheHit and OutcomeResolved.
type Result struct {
	Address *Address
	Outcome Outcome
	Err     error
}

// Provider resolves a coordinate to a provider result. *Client implements it.
type Provider interface {
	ReverseGeocode(ctx context.Context, c geo.Coordinate) (*ProviderResult, error)
}

// MetricsRecorder receives one observation per lookup.
type MetricsRecorder interface {
	RecordLookup(ctx context.Context, outcome string, elapsed time.Duration)
}

// ServiceConfig holds the optional collaborators of a Service.
type ServiceConfig struct {
	CacheTTL time.Duration
	Logger   *logging.Logger
	Tracer   *Tracer
	Metrics  MetricsRecorder
}

// Service resolves coordinates to addresses, reading through the cache.
// It holds no per-call state and is safe for concurrent use. Concurrent
// misses for the same key may both reach the provider; the last write wins.
type Service struct {
	provider Provider
	cache    *Cache
	ttl      time.Duration
	logger   *logging.Logger
	tracer   *Tracer
	metrics  MetricsRecorder
}

// NewService creates a Service. cache may be nil, in which case every
// lookup goes to the provider.
func NewService(provider Provider, cache *Cache, cfg ServiceConfig) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		provider: provider,
		cache:    cache,
		ttl:      cfg.CacheTTL,
		logger:   logging.OrNop(cfg.Logger),
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
	}
}

// Lookup resolves c and reports how it was resolved.
func (s *Service) Lookup(ctx context.Context, c geo.Coordinate) Result {
	start := time.Now()
	res := s.lookup(ctx, c)
	if s.metrics != nil {
		s.metrics.RecordLookup(ctx, res.Outcome.String(), time.Since(start))
	}
	return res
}

func (s *Service) lookup(ctx context.Context, c geo.Coordinate) Result {
	if !c.IsValid() {
		return Result{Outcome: OutcomeInvalid, Err: ErrInvalidCoordinate}
	}

	ctx, span := s.tracer.StartSpan(ctx, "geocoding.Lookup", c, trace.SpanKindInternal)
	defer span.End()

	log := s.logger.WithCoordinate(c)

	if s.cache != nil {
		addr, ok, err := s.cache.Get(ctx, c)
		switch {
		case err != nil:
			log.Warn("geocoding cache read failed, treating as miss", "error", err)
		case ok:
			span.SetAttributes(OutcomeAttribute(OutcomeCacheHit))
			return Result{Address: addr, Outcome: OutcomeCacheHit}
		}
	}

	if s.provider == nil {
		return Result{Outcome: OutcomeFailed, Err: ErrMissingAPIKey}
	}

	pr, err := s.provider.ReverseGeocode(ctx, c)
	if err != nil {
		if errors.Is(err, ErrNoResults) {
			span.SetAttributes(OutcomeAttribute(OutcomeNotFound))
			return Result{Outcome: OutcomeNotFound, Err: err}
		}
		span.RecordError(err)
		span.SetAttributes(OutcomeAttribute(OutcomeFailed))
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	addr := pr.Address()
	if s.cache != nil {
		if err := s.cache.Put(ctx, c, &addr, s.ttl); err != nil {
			log.Warn("geocoding cache write failed", "error", err)
		}
	}

	span.SetAttributes(OutcomeAttribute(OutcomeResolved))
	return Result{Address: &addr, Outcome: OutcomeResolved}
}

// ReverseGeocode returns the address at c, or nil when none could be
// resolved. Failures are logged, never returned.
func (s *Service) ReverseGeocode(ctx context.Context, c geo.Coordinate) *Address {
	res := s.Lookup(ctx, c)

	switch res.Outcome {
	case OutcomeCacheHit, OutcomeResolved:
		return res.Address
	case OutcomeNotFound:
		s.logger.WithCoordinate(c).Debug("no address for coordinate")
	case OutcomeInvalid:
		s.logger.WithCoordinate(c).Warn("skipping reverse geocode of invalid coordinate")
	default:
		s.logger.WithCoordinate(c).WithError(res.Err).Error("reverse geocode failed")
	}
	return nil
}
