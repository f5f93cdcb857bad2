// Package bootstrap wires the location services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/cobrun-location/cache"
	"github.com/mycobrun/cobrun-location/config"
	"github.com/mycobrun/cobrun-location/database"
	"github.com/mycobrun/cobrun-location/geocoding"
	"github.com/mycobrun/cobrun-location/geometry"
	"github.com/mycobrun/cobrun-location/health"
	locationhttp "github.com/mycobrun/cobrun-location/http"
	"github.com/mycobrun/cobrun-location/logging"
	"github.com/mycobrun/cobrun-location/messaging"
	"github.com/mycobrun/cobrun-location/resilience"
	"github.com/mycobrun/cobrun-location/telemetry"
)

// Service holds all initialized components of the location API.
type Service struct {
	Config *config.Config
	Logger *logging.Logger

	Tracing *telemetry.TracingProvider
	Metrics *telemetry.MetricsProvider

	Cache      cache.Store
	Geocoder   *geocoding.Service
	Enricher   *geocoding.Enricher
	DB         *database.SQLClient
	Repository *database.LocationRepository
	Broadcast  *messaging.Broadcaster
	Health     *health.Checker
	Audit      *logging.AuditLogger
	AppInsight *logging.AppInsightsClient

	closers []func(context.Context) error
}

// Options configures initialization.
type Options struct {
	// RunMigrations applies pending schema migrations after connecting.
	RunMigrations bool
	// SkipTelemetry leaves the global OpenTelemetry providers untouched.
	SkipTelemetry bool
}

// DefaultOptions returns the options used by the API binary.
func DefaultOptions() Options {
	return Options{RunMigrations: true}
}

// Initialize loads configuration from the environment (and Key Vault outside
// development) and builds the service from it.
func Initialize(ctx context.Context, serviceName string, opts Options) (*Service, error) {
	cfg, err := config.LoadContext(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(ctx, cfg, opts)
}

// New builds the service from cfg. Optional collaborators that are not
// configured are left nil and reported through the readiness checks. On
// error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (svc *Service, err error) {
	logger := logging.NewLogger(cfg.LogLevel).WithService(cfg.ServiceName)

	s := &Service{
		Config: cfg,
		Logger: logger,
		Health: health.NewChecker(cfg.Version),
	}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("starting service",
		"environment", cfg.Environment,
		"key_vault", valueOrNone(cfg.KeyVaultName),
	)

	if !opts.SkipTelemetry {
		if err := s.initTelemetry(ctx); err != nil {
			return nil, err
		}
	}
	s.initAudit()
	if err := s.initCache(ctx); err != nil {
		return nil, err
	}
	if err := s.initGeocoding(); err != nil {
		return nil, err
	}
	if err := s.initDatabase(ctx, opts.RunMigrations); err != nil {
		return nil, err
	}
	if err := s.initBroadcast(); err != nil {
		return nil, err
	}

	return s, nil
}

// MustInitialize initializes the service and panics on error.
func MustInitialize(ctx context.Context, serviceName string, opts Options) *Service {
	svc, err := Initialize(ctx, serviceName, opts)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize service: %v", err))
	}
	return svc
}

func (s *Service) tracer() trace.Tracer {
	return s.Tracing.Tracer()
}

func (s *Service) initTelemetry(ctx context.Context) error {
	tc := s.Config.Telemetry

	tracing, err := telemetry.NewTracingProvider(ctx, telemetry.TracingConfig{
		ServiceName:    s.Config.ServiceName,
		ServiceVersion: s.Config.Version,
		Environment:    s.Config.Environment,
		Endpoint:       tc.OTLPEndpoint,
		SampleRate:     tc.SampleRate,
		Insecure:       tc.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.Tracing = tracing
	s.closers = append(s.closers, tracing.Shutdown)

	metrics, err := telemetry.NewMetricsProvider(ctx, telemetry.MetricsConfig{
		ServiceName:    s.Config.ServiceName,
		ServiceVersion: s.Config.Version,
		Environment:    s.Config.Environment,
		Endpoint:       tc.OTLPEndpoint,
		Insecure:       tc.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	s.Metrics = metrics
	s.closers = append(s.closers, metrics.Shutdown)

	return nil
}

func (s *Service) initAudit() {
	s.AppInsight = logging.NewAppInsightsClient(logging.AppInsightsConfig{
		InstrumentationKey: s.Config.Telemetry.AppInsightsKey,
		Role:               s.Config.ServiceName,
		Version:            s.Config.Version,
	})

	var sink logging.AuditSink
	if s.AppInsight != nil {
		sink = s.AppInsight
		s.closers = append(s.closers, func(context.Context) error {
			s.AppInsight.Close(5 * time.Second)
			return nil
		})
	}

	s.Audit = logging.NewAuditLogger(logging.AuditLoggerConfig{
		ServiceName: s.Config.ServiceName,
		Environment: s.Config.Environment,
		Logger:      s.Logger,
		Sink:        sink,
	})
}

func (s *Service) initCache(ctx context.Context) error {
	cc := s.Config.Cache

	backend, err := cache.ParseBackend(cc.Backend)
	if err != nil {
		return err
	}

	switch backend {
	case cache.BackendRedis:
		rc := cache.DefaultRedisConfig()
		rc.Host = cc.RedisHost
		rc.Port = cc.RedisPort
		rc.Password = cc.RedisPassword
		rc.DB = cc.RedisDB
		rc.TLSEnabled = cc.RedisTLS

		client, err := cache.NewRedisClient(ctx, rc)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })

		store := cache.NewRedisStore(client, s.Config.ServiceName+":")
		s.Cache = store
		s.Health.AddCheck("cache", health.PingCheck(store), false)

	case cache.BackendValkey:
		store, err := cache.NewValkeyStore(cc.RedisAddr(), cc.RedisPassword)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func(context.Context) error { store.Close(); return nil })

		s.Cache = store
		s.Health.AddCheck("cache", health.PingCheck(store), false)

	default:
		s.Cache = cache.NewMemoryStore()
	}

	s.Logger.Info("geocoding cache ready", "backend", string(backend))
	return nil
}

func (s *Service) initGeocoding() error {
	gc := s.Config.Geocoding
	if gc.Required && !gc.Enabled() {
		return fmt.Errorf("geocoding is required: %w", geocoding.ErrMissingAPIKey)
	}

	var tracer *geocoding.Tracer
	if s.Tracing != nil {
		tracer = geocoding.NewTracer(s.tracer())
	}

	var recorders lookupRecorders
	if s.Metrics != nil {
		m, err := telemetry.NewGeocodingMetrics(s.Metrics.Meter())
		if err != nil {
			return fmt.Errorf("failed to create geocoding metrics: %w", err)
		}
		recorders = append(recorders, m)
	}
	if s.AppInsight != nil && gc.Enabled() {
		recorders = append(recorders, newDependencyRecorder(s.AppInsight, gc.Endpoint))
	}
	var metrics geocoding.MetricsRecorder
	if len(recorders) > 0 {
		metrics = recorders
	}

	// A nil provider still serves cached addresses; misses report failure.
	var provider geocoding.Provider
	if gc.Enabled() {
		breaker := geocoding.NewCircuitBreaker("geocoding")

		client, err := geocoding.NewClient(geocoding.Config{
			APIKey:   gc.APIKey,
			Endpoint: gc.Endpoint,
			Language: gc.Language,
			Region:   gc.Region,
			Timeout:  gc.Timeout,
		},
			geocoding.WithCircuitBreaker(breaker),
			geocoding.WithClientTracer(tracer),
			geocoding.WithClientLogger(s.Logger),
		)
		if err != nil {
			return fmt.Errorf("failed to create geocoding client: %w", err)
		}
		provider = client
		s.Health.AddCheck("geocoding", health.CircuitBreakerCheck(breaker), false)
	} else {
		s.Logger.Warn("geocoding API key not configured, addresses resolve from cache only")
		s.Health.AddCheck("geocoding", health.DisabledCheck("geocoding API key not configured"), false)
	}

	s.Geocoder = geocoding.NewService(provider, geocoding.NewCache(s.Cache, gc.CachePrecision), geocoding.ServiceConfig{
		CacheTTL: gc.CacheTTL,
		Logger:   s.Logger,
		Tracer:   tracer,
		Metrics:  metrics,
	})
	s.Enricher = geocoding.NewEnricher(s.Geocoder, gc.Workers)
	s.closers = append(s.closers, func(context.Context) error { s.Enricher.Wait(); return nil })

	return nil
}

func (s *Service) initDatabase(ctx context.Context, migrate bool) error {
	dc := s.Config.Database
	if !dc.Enabled() {
		s.Logger.Warn("database not configured, location storage disabled")
		s.Health.AddCheck("database", health.DisabledCheck("database not configured"), false)
		return nil
	}

	dialect, err := geometry.ParseDialect(dc.Dialect)
	if err != nil {
		return err
	}

	sqlCfg := database.DefaultSQLConfig(dialect, dc.URL)
	sqlCfg.MaxOpenConns = dc.MaxOpenConns
	sqlCfg.MaxIdleConns = dc.MaxIdleConns
	if dc.MaxLifetime > 0 {
		sqlCfg.MaxLifetime = dc.MaxLifetime
	}

	db, err := database.NewSQLClient(ctx, sqlCfg)
	if err != nil {
		return err
	}
	s.DB = db
	s.closers = append(s.closers, func(context.Context) error { return db.Close() })
	s.Health.AddCheck("database", health.PingCheck(db), true)
	// The server version can refine the configured name (mysql vs mariadb).
	dialect = db.Dialect()

	if migrate {
		if err := Migrate(ctx, db, s.Logger); err != nil {
			return err
		}
	}

	repoOpts := []database.RepositoryOption{database.WithLogger(s.Logger)}
	if s.Tracing != nil {
		repoOpts = append(repoOpts, database.WithTracer(s.tracer()))
	}
	if s.Metrics != nil {
		m, err := telemetry.NewDatabaseMetrics(s.Metrics.Meter(), dialect.String())
		if err != nil {
			return fmt.Errorf("failed to create database metrics: %w", err)
		}
		repoOpts = append(repoOpts, database.WithMetrics(m))
	}

	repo, err := database.NewLocationRepository(db, geometry.NewCodec(dialect, dc.SRID), repoOpts...)
	if err != nil {
		return err
	}
	s.Repository = repo

	s.Logger.Info("location storage ready", "dialect", dialect.String(), "srid", dc.SRID)
	return nil
}

// Migrate applies the embedded migrations for the client's dialect.
func Migrate(ctx context.Context, db *database.SQLClient, logger *logging.Logger) error {
	logger = logging.OrNop(logger)

	m := database.NewMigrator(db)
	if err := m.LoadEmbedded(db.Dialect()); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if applied > 0 {
		logger.Info("applied migrations", "count", applied)
	}
	return nil
}

func (s *Service) initBroadcast() error {
	sc := s.Config.SignalR

	var client *messaging.SignalRClient
	if sc.Enabled() {
		hc := resilience.DefaultResilientHTTPClientConfig("signalr")

		var err error
		client, err = messaging.NewSignalRClient(messaging.SignalRConfig{
			ConnectionString: sc.ConnectionString,
			HubName:          sc.HubName,
		},
			messaging.WithHTTPClient(resilience.NewResilientHTTPClient(hc)),
			messaging.WithTracer(s.tracer()),
		)
		if err != nil {
			return fmt.Errorf("failed to create SignalR client: %w", err)
		}
	}

	s.Broadcast = messaging.NewBroadcaster(client, s.Logger)
	return nil
}

// HandlerConfig returns the location handler wiring for this service.
func (s *Service) HandlerConfig() locationhttp.LocationHandlerConfig {
	cfg := locationhttp.LocationHandlerConfig{
		Geocoder: s.Geocoder,
		Enricher: s.Enricher,
		Logger:   s.Logger,
		Audit:    s.Audit,
	}
	// Assigned only when set so the interfaces stay nil rather than holding
	// typed nil pointers.
	if s.Repository != nil {
		cfg.Store = s.Repository
	}
	if s.Broadcast != nil && s.Broadcast.Enabled() {
		cfg.Publisher = s.Broadcast
	}
	return cfg
}

// RateLimiterConfig returns the default limiter settings with rejections
// recorded in the audit log.
func (s *Service) RateLimiterConfig() locationhttp.RateLimiterConfig {
	cfg := locationhttp.DefaultRateLimiterConfig()
	cfg.OnReject = func(r *http.Request, key string) {
		s.Audit.LogRateLimited(r.Context(), r, key)
	}
	return cfg
}

// Handler builds the HTTP handler serving the API. rl may be nil.
func (s *Service) Handler(rl *locationhttp.RateLimiter) (http.Handler, error) {
	rc := locationhttp.RouterConfig{
		Handler:        locationhttp.NewLocationHandler(s.HandlerConfig()),
		Health:         s.Health,
		Logger:         s.Logger,
		CORSOrigins:    s.Config.CORSOrigins,
		RequestTimeout: s.Config.WriteTimeout,
		RateLimiter:    rl,
	}
	if s.Tracing != nil {
		rc.Tracer = s.tracer()
	}
	if s.Metrics != nil {
		m, err := telemetry.NewHTTPMetrics(s.Metrics.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		rc.Metrics = m
	}
	return locationhttp.NewRouter(rc), nil
}

// ServerConfig returns the HTTP server settings from configuration.
func (s *Service) ServerConfig() locationhttp.ServerConfig {
	sc := locationhttp.DefaultServerConfig()
	sc.Port = s.Config.Port
	if s.Config.ReadTimeout > 0 {
		sc.ReadTimeout = s.Config.ReadTimeout
	}
	if s.Config.WriteTimeout > 0 {
		sc.WriteTimeout = s.Config.WriteTimeout
	}
	if s.Config.IdleTimeout > 0 {
		sc.IdleTimeout = s.Config.IdleTimeout
	}
	if s.Config.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = s.Config.ShutdownTimeout
	}
	return sc
}

// Close releases resources in reverse order of acquisition.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none - using env vars)"
	}
	return s
}
