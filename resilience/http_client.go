package resilience

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError reports a response whose status the client treats as a failure.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: status %d", e.StatusCode)
}

// Temporary reports whether the status is worth retrying (5xx or 429).
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ResilientHTTPClient wraps an HTTP client with circuit breaking and retry.
// Use it for idempotent outbound calls that are allowed to be retried.
type ResilientHTTPClient struct {
	client         *http.Client
	circuitBreaker *CircuitBreaker
	retry          RetryConfig
}

// ResilientHTTPClientConfig configures a resilient HTTP client.
type ResilientHTTPClientConfig struct {
	Name    string
	Timeout time.Duration
	Retry   RetryConfig

	// CircuitBreakerConfig overrides the default breaker (optional).
	CircuitBreakerConfig *CircuitBreakerConfig

	// Transport overrides the default transport (optional).
	Transport http.RoundTripper
}

// DefaultResilientHTTPClientConfig returns sensible defaults.
func DefaultResilientHTTPClientConfig(name string) ResilientHTTPClientConfig {
	return ResilientHTTPClientConfig{
		Name:    name,
		Timeout: 10 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// NewResilientHTTPClient creates a new resilient HTTP client.
func NewResilientHTTPClient(config ResilientHTTPClientConfig) *ResilientHTTPClient {
	cbConfig := DefaultCircuitBreakerConfig(config.Name)
	if config.CircuitBreakerConfig != nil {
		cbConfig = *config.CircuitBreakerConfig
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &ResilientHTTPClient{
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		circuitBreaker: NewCircuitBreaker(cbConfig),
		retry:          config.Retry,
	}
}

// Do sends req, retrying transport errors, 5xx and 429 responses. Request
// bodies must be replayable through req.GetBody, which http.NewRequest sets
// for in-memory readers.
func (c *ResilientHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return RetryWithResult(req.Context(), c.retry, func() (*http.Response, error) {
		var resp *http.Response
		err := c.circuitBreaker.Execute(req.Context(), func(ctx context.Context) error {
			attempt := req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				attempt.Body = body
			}

			r, err := c.client.Do(attempt)
			if err != nil {
				return err
			}

			statusErr := &StatusError{StatusCode: r.StatusCode}
			if statusErr.Temporary() {
				_, _ = io.Copy(io.Discard, r.Body)
				r.Body.Close()
				return statusErr
			}

			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
}

// CircuitBreaker returns the underlying circuit breaker.
func (c *ResilientHTTPClient) CircuitBreaker() *CircuitBreaker {
	return c.circuitBreaker
}
