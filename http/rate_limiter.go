package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/mycobrun/cobrun-location/errors"
	"github.com/mycobrun/cobrun-location/telemetry"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// RequestsPerSecond is the number of requests allowed per second.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size (bucket capacity).
	BurstSize int
	// KeyFunc extracts the rate limit key from the request.
	KeyFunc func(r *http.Request) string
	// CleanupInterval is how often idle buckets are dropped.
	CleanupInterval time.Duration
	// OnReject, if set, is called for every rejected request.
	OnReject func(r *http.Request, key string)
}

// DefaultRateLimiterConfig limits each client to 10 lookups per second with
// a burst of 20, which keeps one client from exhausting the geocoding quota.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		KeyFunc:           ClientIPKey,
		CleanupInterval:   time.Minute,
	}
}

// ClientIPKey keys requests by client host. Run it after RealIP so proxied
// requests carry the forwarded address.
func ClientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full token bucket.
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return newTokenBucket(maxTokens, refillRate, time.Now)
}

func newTokenBucket(maxTokens, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

func (b *TokenBucket) refill() {
	now := b.now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// Allow consumes a token if one is available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	config  RateLimiterConfig
	buckets sync.Map // map[string]*TokenBucket
	now     func() time.Time
	cancel  context.CancelFunc
}

// NewRateLimiter creates a rate limiter. Close stops its cleanup goroutine.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = def.BurstSize
	}
	if config.KeyFunc == nil {
		config.KeyFunc = def.KeyFunc
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		config: config,
		now:    time.Now,
		cancel: cancel,
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop(ctx)
	}
	return rl
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	if b, ok := rl.buckets.Load(key); ok {
		return b.(*TokenBucket)
	}

	b := newTokenBucket(float64(rl.config.BurstSize), rl.config.RequestsPerSecond, rl.now)
	actual, _ := rl.buckets.LoadOrStore(key, b)
	return actual.(*TokenBucket)
}

// Allow reports whether the request's key still has a token.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	return rl.bucket(rl.config.KeyFunc(r)).Allow()
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops full buckets, which have not been used since they refilled.
func (rl *RateLimiter) cleanup() {
	rl.buckets.Range(func(key, value interface{}) bool {
		if value.(*TokenBucket).Tokens() >= float64(rl.config.BurstSize) {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// Close stops the rate limiter.
func (rl *RateLimiter) Close() {
	rl.cancel()
}

// Middleware rejects requests over the limit with a RATE_LIMITED error.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.config.KeyFunc(r)
		b := rl.bucket(key)
		allowed := b.Allow()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.BurstSize))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(b.Tokens())))

		if !allowed {
			w.Header().Set("Retry-After", "1")
			if rl.config.OnReject != nil {
				rl.config.OnReject(r, key)
			}
			apperrors.WriteError(w, apperrors.RateLimited("too many requests"), telemetry.TraceID(r.Context()))
			return
		}

		next.ServeHTTP(w, r)
	})
}
