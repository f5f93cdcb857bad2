// Package messaging publishes location events to connected clients.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mycobrun/cobrun-location/resilience"
	"github.com/mycobrun/cobrun-location/telemetry"
)

const (
	tokenTTL      = 5 * time.Minute
	messagingName = "signalr"
)

// SignalRConfig holds SignalR Service configuration.
type SignalRConfig struct {
	ConnectionString string
	HubName          string
	Timeout          time.Duration
}

// SignalRClient sends messages through the Azure SignalR Service REST API.
type SignalRClient struct {
	endpoint   string
	accessKey  string
	hubName    string
	httpClient *resilience.ResilientHTTPClient
	tracer     trace.Tracer
	now        func() time.Time
}

// ClientOption configures a SignalRClient.
type ClientOption func(*SignalRClient)

// WithHTTPClient replaces the default resilient HTTP client.
func WithHTTPClient(c *resilience.ResilientHTTPClient) ClientOption {
	return func(s *SignalRClient) { s.httpClient = c }
}

// WithTracer records a producer span per request.
func WithTracer(t trace.Tracer) ClientOption {
	return func(s *SignalRClient) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewSignalRClient creates a new SignalR client.
func NewSignalRClient(config SignalRConfig, opts ...ClientOption) (*SignalRClient, error) {
	endpoint, accessKey, err := parseConnectionString(config.ConnectionString)
	if err != nil {
		return nil, err
	}
	if config.HubName == "" {
		return nil, fmt.Errorf("signalr hub name is required")
	}

	httpConfig := resilience.DefaultResilientHTTPClientConfig(messagingName)
	if config.Timeout > 0 {
		httpConfig.Timeout = config.Timeout
	}

	c := &SignalRClient{
		endpoint:   endpoint,
		accessKey:  accessKey,
		hubName:    config.HubName,
		httpClient: resilience.NewResilientHTTPClient(httpConfig),
		tracer:     noop.NewTracerProvider().Tracer(""),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseConnectionString(connStr string) (endpoint, accessKey string, err error) {
	params := make(map[string]string)
	for _, part := range strings.Split(connStr, ";") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		}
	}

	endpoint = strings.TrimRight(params["Endpoint"], "/")
	accessKey = params["AccessKey"]

	if endpoint == "" || accessKey == "" {
		return "", "", fmt.Errorf("invalid connection string: missing Endpoint or AccessKey")
	}

	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "https://" + endpoint
	}

	return endpoint, accessKey, nil
}

// HubName returns the hub messages are sent to.
func (c *SignalRClient) HubName() string {
	return c.hubName
}

// generateToken signs an HS256 access token for audience with the hub's
// access key. subject is omitted when empty.
func (c *SignalRClient) generateToken(audience, subject string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.accessKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (c *SignalRClient) hubURL(parts ...string) string {
	u := fmt.Sprintf("%s/api/v1/hubs/%s", c.endpoint, url.PathEscape(c.hubName))
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// BroadcastMessage broadcasts a message to all clients of the hub.
func (c *SignalRClient) BroadcastMessage(ctx context.Context, message *SignalRMessage) error {
	return c.sendRequest(ctx, "broadcast", c.hubName, http.MethodPost, c.hubURL(), message)
}

// SendToUser sends a message to a specific user.
func (c *SignalRClient) SendToUser(ctx context.Context, userID string, message *SignalRMessage) error {
	return c.sendRequest(ctx, "send", "users/"+userID, http.MethodPost, c.hubURL("users", userID), message)
}

// SendToGroup sends a message to a group.
func (c *SignalRClient) SendToGroup(ctx context.Context, groupName string, message *SignalRMessage) error {
	return c.sendRequest(ctx, "send", "groups/"+groupName, http.MethodPost, c.hubURL("groups", groupName), message)
}

// AddUserToGroup adds a user to a group.
func (c *SignalRClient) AddUserToGroup(ctx context.Context, userID, groupName string) error {
	return c.sendRequest(ctx, "join", "groups/"+groupName, http.MethodPut, c.hubURL("groups", groupName, "users", userID), nil)
}

// RemoveUserFromGroup removes a user from a group.
func (c *SignalRClient) RemoveUserFromGroup(ctx context.Context, userID, groupName string) error {
	return c.sendRequest(ctx, "leave", "groups/"+groupName, http.MethodDelete, c.hubURL("groups", groupName, "users", userID), nil)
}

func (c *SignalRClient) sendRequest(ctx context.Context, operation, destination, method, target string, body interface{}) error {
	return telemetry.WrapMessagingOperation(ctx, c.tracer, messagingName, destination, operation, func(ctx context.Context) error {
		token, err := c.generateToken(target, "", tokenTTL)
		if err != nil {
			return err
		}

		var reqBody io.Reader
		if body != nil {
			jsonBody, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal body: %w", err)
			}
			reqBody = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		telemetry.InjectTraceContext(ctx, req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("signalr request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		return nil
	})
}

// SignalRMessage represents a message to send via SignalR.
type SignalRMessage struct {
	Target    string        `json:"target"`
	Arguments []interface{} `json:"arguments"`
}

// NewSignalRMessage creates a new SignalR message.
func NewSignalRMessage(target string, args ...interface{}) *SignalRMessage {
	if args == nil {
		args = []interface{}{}
	}
	return &SignalRMessage{
		Target:    target,
		Arguments: args,
	}
}

// NegotiateResponse represents the response from negotiate endpoint.
type NegotiateResponse struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

// GenerateClientToken generates a client access token for a direct SignalR
// connection. An empty userID yields an anonymous token.
func (c *SignalRClient) GenerateClientToken(userID string, ttl time.Duration) (*NegotiateResponse, error) {
	clientURL := fmt.Sprintf("%s/client/?hub=%s", c.endpoint, url.QueryEscape(c.hubName))

	token, err := c.generateToken(clientURL, userID, ttl)
	if err != nil {
		return nil, err
	}

	return &NegotiateResponse{
		URL:         clientURL,
		AccessToken: token,
	}, nil
}
