package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mycobrun/cobrun-location/cache"
	"github.com/mycobrun/cobrun-location/resilience"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func ok(ctx context.Context) error { return nil }

func TestChecker_Check(t *testing.T) {
	fail := func(ctx context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Check{{"a", ok, true}, {"b", ok, false}}, StatusHealthy},
		{"optional failure", []Check{{"a", ok, true}, {"b", fail, false}}, StatusDegraded},
		{"critical failure", []Check{{"a", fail, true}, {"b", fail, false}}, StatusUnhealthy},
		{"critical failure listed last", []Check{{"b", fail, false}, {"a", fail, true}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("1.0.0")
			for _, c := range tt.checks {
				checker.AddCheck(c.Name, c.CheckFn, c.Critical)
			}

			resp := checker.Check(context.Background())
			if resp.Status != tt.want {
				t.Errorf("Status = %s, want %s", resp.Status, tt.want)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Fatalf("got %d results, want %d", len(resp.Checks), len(tt.checks))
			}
			for i, r := range resp.Checks {
				if r.Name != tt.checks[i].Name {
					t.Errorf("result %d = %s, want %s", i, r.Name, tt.checks[i].Name)
				}
			}
			if resp.Version != "1.0.0" {
				t.Errorf("Version = %s", resp.Version)
			}
			if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
				t.Errorf("Timestamp %q: %v", resp.Timestamp, err)
			}
		})
	}
}

func TestChecker_CheckTimeout(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.SetTimeout(20 * time.Millisecond)
	checker.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, true)

	start := time.Now()
	resp := checker.Check(context.Background())
	if time.Since(start) > time.Second {
		t.Error("check was not bounded by the timeout")
	}
	if resp.Status != StatusUnhealthy || resp.Checks[0].Message == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChecker_ConcurrentUse(t *testing.T) {
	checker := NewChecker("1.0.0")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			checker.AddCheck("c", ok, false)
		}()
		go func() {
			defer wg.Done()
			_ = checker.Check(context.Background())
		}()
	}
	wg.Wait()

	if got := len(checker.Check(context.Background()).Checks); got != 10 {
		t.Errorf("checks = %d, want 10", got)
	}
}

func TestHandlers(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddCheck("database", PingCheck(fakePinger{err: errors.New("refused")}), true)

	rec := httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusUnhealthy || resp.Checks[0].Message != "refused" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestReadinessDegradedIsOK(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddCheck("geocoding", DisabledCheck("no API key configured"), false)

	rec := httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestPingCheckRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	check := PingCheck(cache.NewRedisStore(client, ""))
	if err := check(context.Background()); err != nil {
		t.Errorf("ping error = %v", err)
	}

	mr.Close()
	if err := check(context.Background()); err == nil {
		t.Error("expected error after redis stopped")
	}
}

func TestCircuitBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "geocoding",
		FailureThreshold: 1,
		Timeout:          time.Hour,
	})
	check := CircuitBreakerCheck(cb)

	if err := check(context.Background()); err != nil {
		t.Errorf("closed breaker error = %v", err)
	}

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	if cb.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.State())
	}

	err := check(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker error = %v, want ErrCircuitOpen", err)
	}
}
