package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/logging"
	"github.com/mycobrun/cobrun-location/resilience"
)

const (
	// DefaultEndpoint is the Google Geocoding JSON API.
	DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

	defaultTimeout  = 10 * time.Second
	defaultLanguage = "es"
	defaultRegion   = "pe"

	// Keeps a misbehaving provider from pinning memory.
	maxResponseBytes = 4 << 20
)

var (
	// ErrMissingAPIKey is returned by NewClient when no API key is configured.
	ErrMissingAPIKey = errors.New("geocoding: provider API key is not configured")

	// ErrNoResults is returned when the provider answers ZERO_RESULTS, or OK
	// with an empty result list.
	ErrNoResults = errors.New("geocoding: no results for coordinate")
)

// ProviderStatusError is returned when the provider answers with a status
// other than OK or ZERO_RESULTS (OVER_QUERY_LIMIT, REQUEST_DENIED, ...).
type ProviderStatusError struct {
	Status  string
	Message string
}

func (e *ProviderStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("geocoding: provider status %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("geocoding: provider status %s", e.Status)
}

// Config holds provider configuration.
type Config struct {
	APIKey   string
	Endpoint string
	Language string
	Region   string
	Timeout  time.Duration
}

// DefaultConfig returns a configuration for the Google endpoint with the
// default language, region and timeout.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:   apiKey,
		Endpoint: DefaultEndpoint,
		Language: defaultLanguage,
		Region:   defaultRegion,
		Timeout:  defaultTimeout,
	}
}

// ProviderResult is the first result of a successful reverse-geocoding call.
type ProviderResult struct {
	PlaceID          string
	FormattedAddress string
	Location         geo.Coordinate
	Components       []AddressComponent
}

// Address parses the result's components into a structured address.
func (r *ProviderResult) Address() Address {
	return ParseAddress(r.Components, r.FormattedAddress)
}

type apiResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID          string `json:"place_id"`
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []AddressComponent `json:"address_components"`
	} `json:"results"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client. Its timeout is left as is.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCircuitBreaker guards provider calls with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithClientTracer records a client span per provider call.
func WithClientTracer(t *Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// Client calls the reverse-geocoding provider. It never retries.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	tracer     *Tracer
	logger     *logging.Logger
}

// NewClient creates a provider client. It fails with ErrMissingAPIKey when
// cfg has no API key.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	def := DefaultConfig(cfg.APIKey)
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Region == "" {
		cfg.Region = def.Region
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewCircuitBreaker returns a breaker suited to the provider: coordinates
// with no address do not count as failures.
func NewCircuitBreaker(name string) *resilience.CircuitBreaker {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, ErrNoResults)
	}
	return resilience.NewCircuitBreaker(cfg)
}

// ReverseGeocode asks the provider for the address at c. Any failure returns
// an error and no partial result.
func (c *Client) ReverseGeocode(ctx context.Context, coord geo.Coordinate) (*ProviderResult, error) {
	ctx, span := c.tracer.StartSpan(ctx, "geocoding.ReverseGeocode", coord, trace.SpanKindClient)
	defer span.End()

	var result *ProviderResult
	call := func(ctx context.Context) error {
		r, err := c.reverseGeocode(ctx, coord)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if !errors.Is(err, ErrNoResults) {
			span.RecordError(err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("geocoding.place_id", result.PlaceID))
	return result, nil
}

func (c *Client) reverseGeocode(ctx context.Context, coord geo.Coordinate) (*ProviderResult, error) {
	params := url.Values{}
	params.Set("latlng", geo.FormatDegrees(coord.Latitude)+","+geo.FormatDegrees(coord.Longitude))
	params.Set("key", c.config.APIKey)
	params.Set("language", c.config.Language)
	params.Set("region", c.config.Region)

	reqURL := fmt.Sprintf("%s?%s", c.config.Endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode}
	}

	var apiResp apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	switch apiResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, ErrNoResults
	default:
		return nil, &ProviderStatusError{Status: apiResp.Status, Message: apiResp.ErrorMessage}
	}
	if len(apiResp.Results) == 0 {
		return nil, ErrNoResults
	}

	r := apiResp.Results[0]
	c.logger.Debug("reverse geocode completed",
		"lat", coord.Latitude,
		"lng", coord.Longitude,
		"place_id", r.PlaceID)

	return &ProviderResult{
		PlaceID:          r.PlaceID,
		FormattedAddress: r.FormattedAddress,
		Location:         geo.NewCoordinate(r.Geometry.Location.Lat, r.Geometry.Location.Lng),
		Components:       r.AddressComponents,
	}, nil
}
