// Package cache provides the key/value stores that back the geocoding cache.
//
// A Store is reached by key only. Entries carry a per-key TTL and expire
// passively; there is no eviction sweep.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is a byte-valued key/value store with per-entry TTL.
type Store interface {
	// Get returns the value for key, or nil and no error on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A non-positive ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendValkey Backend = "valkey"
	BackendMemory Backend = "memory"
)

// ParseBackend resolves a configured backend name. Empty selects memory.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "":
		return BackendMemory, nil
	case BackendRedis, BackendValkey, BackendMemory:
		return b, nil
	default:
		return "", fmt.Errorf("cache: unknown backend %q", name)
	}
}
