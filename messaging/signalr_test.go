package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/geocoding"
	"github.com/mycobrun/cobrun-location/resilience"
)

const testAccessKey = "dGVzdGtleQ=="

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

// hubServer records every request it receives and answers with status.
func hubServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func newTestClient(t *testing.T, endpoint string) *SignalRClient {
	t.Helper()
	httpConfig := resilience.DefaultResilientHTTPClientConfig("signalr-test")
	httpConfig.Retry.MaxRetries = 1
	httpConfig.Retry.InitialDelay = time.Millisecond
	httpConfig.Retry.MaxDelay = time.Millisecond

	client, err := NewSignalRClient(SignalRConfig{
		ConnectionString: "Endpoint=" + endpoint + ";AccessKey=" + testAccessKey + ";Version=1.0;",
		HubName:          "locations",
	}, WithHTTPClient(resilience.NewResilientHTTPClient(httpConfig)))
	require.NoError(t, err)
	return client
}

func parseToken(t *testing.T, raw string) *jwt.RegisteredClaims {
	t.Helper()
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testAccessKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	return claims
}

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name      string
		connStr   string
		endpoint  string
		accessKey string
		wantErr   bool
	}{
		{"with https", "Endpoint=https://test.service.signalr.net;AccessKey=testkey123", "https://test.service.signalr.net", "testkey123", false},
		{"without scheme", "Endpoint=test.service.signalr.net;AccessKey=testkey456", "https://test.service.signalr.net", "testkey456", false},
		{"extra semicolons and trailing slash", "Endpoint=https://test.signalr.net/;;AccessKey=key123;", "https://test.signalr.net", "key123", false},
		{"base64 key with padding", "Endpoint=https://x.signalr.net;AccessKey=" + testAccessKey, "https://x.signalr.net", testAccessKey, false},
		{"missing endpoint", "AccessKey=testkey", "", "", true},
		{"missing access key", "Endpoint=https://test.signalr.net", "", "", true},
		{"empty", "", "", "", true},
		{"malformed", "invalid connection string", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint, accessKey, err := parseConnectionString(tt.connStr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.endpoint, endpoint)
			assert.Equal(t, tt.accessKey, accessKey)
		})
	}
}

func TestNewSignalRClient(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		client, err := NewSignalRClient(SignalRConfig{
			ConnectionString: "Endpoint=https://test.signalr.net;AccessKey=" + testAccessKey,
			HubName:          "locations",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://test.signalr.net", client.endpoint)
		assert.Equal(t, "locations", client.HubName())
		assert.NotNil(t, client.httpClient)
	})

	t.Run("invalid connection string", func(t *testing.T) {
		client, err := NewSignalRClient(SignalRConfig{ConnectionString: "invalid", HubName: "locations"})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("missing hub", func(t *testing.T) {
		_, err := NewSignalRClient(SignalRConfig{ConnectionString: "Endpoint=https://x;AccessKey=k"})
		assert.Error(t, err)
	})
}

func TestSignalRMessage(t *testing.T) {
	msg := NewSignalRMessage("testMethod")
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"testMethod","arguments":[]}`, string(data))

	msg = NewSignalRMessage("testMethod", "arg1", 42, true)
	assert.Len(t, msg.Arguments, 3)
}

func TestBroadcastMessageSignsToken(t *testing.T) {
	server, requests := hubServer(t, http.StatusAccepted)
	client := newTestClient(t, server.URL)

	err := client.BroadcastMessage(context.Background(), NewSignalRMessage("ping", "x"))
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/api/v1/hubs/locations", reqs[0].Path)
	assert.JSONEq(t, `{"target":"ping","arguments":["x"]}`, reqs[0].Body)

	require.True(t, strings.HasPrefix(reqs[0].Auth, "Bearer "))
	claims := parseToken(t, strings.TrimPrefix(reqs[0].Auth, "Bearer "))
	assert.Equal(t, jwt.ClaimStrings{server.URL + "/api/v1/hubs/locations"}, claims.Audience)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestGroupMembership(t *testing.T) {
	server, requests := hubServer(t, http.StatusOK)
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	require.NoError(t, client.AddUserToGroup(ctx, "user-1", "location-abc"))
	require.NoError(t, client.RemoveUserFromGroup(ctx, "user-1", "location-abc"))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, http.MethodDelete, reqs[1].Method)
	for _, r := range reqs {
		assert.Equal(t, "/api/v1/hubs/locations/groups/location-abc/users/user-1", r.Path)
		assert.Empty(t, r.Body)
	}
}

func TestSendRequestErrors(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		server, requests := hubServer(t, http.StatusBadRequest)
		client := newTestClient(t, server.URL)

		err := client.SendToUser(context.Background(), "user-1", NewSignalRMessage("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
		assert.Len(t, requests(), 1)
	})

	t.Run("server error is retried", func(t *testing.T) {
		server, requests := hubServer(t, http.StatusServiceUnavailable)
		client := newTestClient(t, server.URL)

		err := client.SendToGroup(context.Background(), "g", NewSignalRMessage("x"))
		require.Error(t, err)
		assert.Len(t, requests(), 2)
	})
}

func TestGenerateClientToken(t *testing.T) {
	client, err := NewSignalRClient(SignalRConfig{
		ConnectionString: "Endpoint=https://test.signalr.net;AccessKey=" + testAccessKey,
		HubName:          "locations",
	})
	require.NoError(t, err)

	t.Run("anonymous", func(t *testing.T) {
		resp, err := client.GenerateClientToken("", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "https://test.signalr.net/client/?hub=locations", resp.URL)

		claims := parseToken(t, resp.AccessToken)
		assert.Empty(t, claims.Subject)
		assert.Equal(t, jwt.ClaimStrings{resp.URL}, claims.Audience)
	})

	t.Run("with user", func(t *testing.T) {
		resp, err := client.GenerateClientToken("user-123", 2*time.Hour)
		require.NoError(t, err)

		claims := parseToken(t, resp.AccessToken)
		assert.Equal(t, "user-123", claims.Subject)
		assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, 5*time.Second)
	})
}

func TestBroadcasterPublish(t *testing.T) {
	server, requests := hubServer(t, http.StatusAccepted)
	b := NewBroadcaster(newTestClient(t, server.URL), nil)
	require.True(t, b.Enabled())

	loc := geo.NewCoordinate(-12.0464, -77.0428)
	msg := NewLocationUpdateMessage("abc", &loc, &geocoding.Address{City: "Lima"})
	require.NoError(t, b.Publish(context.Background(), msg))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/api/v1/hubs/locations", reqs[0].Path)
	assert.Equal(t, "/api/v1/hubs/locations/groups/location-abc", reqs[1].Path)

	var sent struct {
		Target    string                  `json:"target"`
		Arguments []LocationUpdateMessage `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &sent))
	assert.Equal(t, LocationUpdateTarget, sent.Target)
	require.Len(t, sent.Arguments, 1)
	assert.Equal(t, "abc", sent.Arguments[0].ID)
	assert.Equal(t, loc, *sent.Arguments[0].Location)
	assert.Equal(t, "Lima", sent.Arguments[0].Address.City)
	assert.Equal(t, msg.Timestamp, sent.Arguments[0].Timestamp)
}

func TestBroadcasterDisabled(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	assert.False(t, b.Enabled())
	assert.NoError(t, b.Publish(context.Background(), NewLocationUpdateMessage("abc", nil, nil)))

	<-b.PublishAsync(context.Background(), NewLocationUpdateMessage("abc", nil, nil))
}

func TestBroadcasterPublishAsyncLogsFailure(t *testing.T) {
	server, requests := hubServer(t, http.StatusForbidden)
	b := NewBroadcaster(newTestClient(t, server.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := b.PublishAsync(ctx, NewLocationUpdateMessage("abc", nil, nil))
	cancel()
	<-done

	// Cancelling the request context does not abort the publish.
	assert.Len(t, requests(), 1)
}
