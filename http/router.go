package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/mycobrun/cobrun-location/errors"
	"github.com/mycobrun/cobrun-location/health"
	"github.com/mycobrun/cobrun-location/logging"
	"github.com/mycobrun/cobrun-location/telemetry"
)

// RouterConfig assembles the API router.
type RouterConfig struct {
	Handler        *LocationHandler
	Health         *health.Checker
	Logger         *logging.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration

	// RateLimiter guards the geocoding endpoint. Nil disables limiting.
	RateLimiter *RateLimiter

	Tracer  trace.Tracer
	Metrics *telemetry.HTTPMetrics
}

// NewRouter builds the API router: health probes at the root and the
// location endpoints under /v1.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RealIP)
	if cfg.Tracer != nil {
		r.Use(telemetry.TracingMiddleware(cfg.Tracer))
	}
	r.Use(Logger(cfg.Logger))
	r.Use(Recoverer(cfg.Logger))
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.CORSOrigins))
	if cfg.Metrics != nil {
		r.Use(telemetry.MetricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.LivenessHandler())
		r.Get("/health/ready", cfg.Health.ReadinessHandler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, apperrors.NotFound("route"))
	})

	if cfg.Handler == nil {
		return r
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(Timeout(cfg.RequestTimeout))

		r.Post("/locations/validate", cfg.Handler.Validate)
		r.Post("/locations", cfg.Handler.Create)
		r.Get("/locations/{id}", cfg.Handler.Get)

		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Middleware)
			}
			r.Get("/geocode/reverse", cfg.Handler.ReverseGeocode)
		})
	})

	return r
}
