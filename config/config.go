// Package config provides configuration loading with Azure Key Vault integration.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mycobrun/cobrun-location/validation"
)

// Config holds the configuration of the location services.
type Config struct {
	// Service identification
	ServiceName string `validate:"required"`
	Environment string `validate:"oneof=development test staging production"`
	Version     string

	// HTTP server
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// Logging
	LogLevel string `validate:"oneof=debug info warn warning error"`

	// Azure
	KeyVaultName string

	Geocoding GeocodingConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	SignalR   SignalRConfig
	Telemetry TelemetryConfig
}

// GeocodingConfig configures the reverse-geocoding provider and its cache.
type GeocodingConfig struct {
	APIKey         string
	Endpoint       string `validate:"omitempty,url"`
	Language       string `validate:"required"`
	Region         string
	Timeout        time.Duration `validate:"gt=0"`
	CacheTTL       time.Duration `validate:"gt=0"`
	CachePrecision int           `validate:"min=0,max=12"`
	Workers        int           `validate:"min=1"`

	// Required makes a missing API key a startup error instead of a
	// cache-only degraded mode.
	Required bool
}

// Enabled reports whether an API key is configured.
func (g GeocodingConfig) Enabled() bool {
	return g.APIKey != ""
}

// CacheConfig selects and configures the geocoding cache store.
type CacheConfig struct {
	Backend       string `validate:"oneof=redis valkey memory"`
	RedisHost     string `validate:"required_unless=Backend memory"`
	RedisPort     int    `validate:"min=1,max=65535"`
	RedisPassword string
	RedisDB       int `validate:"min=0"`
	RedisTLS      bool
}

// RedisAddr returns host:port.
func (c CacheConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DatabaseConfig configures location persistence. An empty URL disables it.
type DatabaseConfig struct {
	Dialect      string `validate:"oneof=mysql mariadb postgres postgresql"`
	URL          string
	SRID         int `validate:"srid"`
	MaxOpenConns int `validate:"min=1"`
	MaxIdleConns int `validate:"min=0"`
	MaxLifetime  time.Duration
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// SignalRConfig configures location update broadcasts. An empty connection
// string disables them.
type SignalRConfig struct {
	ConnectionString string
	HubName          string `validate:"required_with=ConnectionString"`
}

// Enabled reports whether broadcasting is configured.
func (s SignalRConfig) Enabled() bool {
	return s.ConnectionString != ""
}

// TelemetryConfig configures OTLP export. An empty endpoint keeps traces and
// metrics in-process.
type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
	SampleRate   float64 `validate:"min=0,max=1"`

	// AppInsightsKey enables forwarding audit events to Application Insights.
	AppInsightsKey string
}

// SecretSource reads named secrets.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// newSecretSource opens the vault named by KEY_VAULT_NAME.
var newSecretSource = func(vaultName string) (SecretSource, error) {
	return NewKeyVaultClient(vaultName)
}

// Load loads configuration from environment variables.
// For production, secrets are loaded from Azure Key Vault.
func Load(serviceName string) (*Config, error) {
	return LoadContext(context.Background(), serviceName)
}

// LoadContext is Load with a context bounding the Key Vault reads.
func LoadContext(ctx context.Context, serviceName string) (*Config, error) {
	cfg := &Config{
		ServiceName:     serviceName,
		Environment:     strings.ToLower(getEnv("ENVIRONMENT", "development")),
		Version:         getEnv("VERSION", "0.0.1"),
		Port:            getEnvInt("PORT", 8080),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		KeyVaultName:    getEnv("KEY_VAULT_NAME", ""),
	}
	cfg.loadFromEnv()

	// Secrets override the environment outside development
	if cfg.KeyVaultName != "" && !cfg.IsDevelopment() {
		src, err := newSecretSource(cfg.KeyVaultName)
		if err != nil {
			return nil, fmt.Errorf("failed to open Key Vault: %w", err)
		}
		cfg.loadSecrets(ctx, src)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad(serviceName string) *Config {
	cfg, err := Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) loadFromEnv() {
	c.CORSOrigins = getEnvSlice("CORS_ORIGINS", nil)
	if len(c.CORSOrigins) == 0 && c.IsDevelopment() {
		c.CORSOrigins = []string{"*"}
	}

	c.Geocoding = GeocodingConfig{
		APIKey:         getEnv("GOOGLE_MAPS_API_KEY", ""),
		Endpoint:       getEnv("GEOCODING_ENDPOINT", ""),
		Language:       getEnv("GEOCODING_LANGUAGE", "es"),
		Region:         getEnv("GEOCODING_REGION", "pe"),
		Timeout:        getEnvDuration("GEOCODING_TIMEOUT", 10*time.Second),
		CacheTTL:       getEnvDuration("GEOCODING_CACHE_TTL", 24*time.Hour),
		CachePrecision: getEnvInt("GEOCODING_CACHE_PRECISION", 6),
		Workers:        getEnvInt("GEOCODING_WORKERS", 8),
		Required:       getEnvBool("GEOCODING_REQUIRED", c.IsProduction()),
	}

	c.Cache = CacheConfig{
		Backend:       strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisTLS:      getEnvBool("REDIS_TLS", false),
	}

	c.Database = DatabaseConfig{
		Dialect:      strings.ToLower(getEnv("DB_DIALECT", "postgres")),
		URL:          getEnvWithFallback("DATABASE_URL", "SQL_CONNECTION_STRING", ""),
		SRID:         getEnvInt("SPATIAL_SRID", 4326),
		MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		MaxLifetime:  getEnvDuration("DB_MAX_LIFETIME", 30*time.Minute),
	}

	c.SignalR = SignalRConfig{
		ConnectionString: getEnv("SIGNALR_CONNECTION_STRING", ""),
		HubName:          getEnv("SIGNALR_HUB", "locations"),
	}

	c.Telemetry = TelemetryConfig{
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.IsDevelopment()),
		SampleRate:   getEnvFloat("OTEL_TRACES_SAMPLE_RATE", 1.0),

		AppInsightsKey: getEnv("APPINSIGHTS_INSTRUMENTATIONKEY", ""),
	}
}

// loadSecrets overwrites secret fields with vault values. Secrets the vault
// does not hold keep their environment value.
func (c *Config) loadSecrets(ctx context.Context, src SecretSource) {
	secrets := map[string]*string{
		"google-maps-api-key":       &c.Geocoding.APIKey,
		"redis-password":            &c.Cache.RedisPassword,
		"database-url":              &c.Database.URL,
		"signalr-connection-string": &c.SignalR.ConnectionString,
		"appinsights-key":           &c.Telemetry.AppInsightsKey,
	}

	for name, ptr := range secrets {
		value, err := src.GetSecret(ctx, name)
		if err != nil || value == "" {
			continue
		}
		*ptr = value
	}
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	errs, err := validation.ValidateStruct(c)
	if err == nil {
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return fmt.Errorf("invalid configuration: %w", errs)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvWithFallback gets an environment variable with fallback to another key.
func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated variable, dropping empty items.
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	return getEnv(key, defaultValue)
}

// GetEnvInt gets an environment variable as an integer with a default value.
func GetEnvInt(key string, defaultValue int) int {
	return getEnvInt(key, defaultValue)
}

// GetEnvBool gets an environment variable as a boolean with a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	return getEnvBool(key, defaultValue)
}

// GetEnvDuration gets an environment variable as a duration with a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnvDuration(key, defaultValue)
}

// GetEnvFloat gets an environment variable as a float with a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	return getEnvFloat(key, defaultValue)
}

// GetEnvSlice gets a comma-separated environment variable as a slice.
func GetEnvSlice(key string, defaultValue []string) []string {
	return getEnvSlice(key, defaultValue)
}
