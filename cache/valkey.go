package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore implements Store using Valkey.
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to the Valkey server at addr. Client-side caching
// is disabled; entries must expire on the server's schedule.
func NewValkeyStore(addr, password string) (*ValkeyStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		Password:     password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &ValkeyStore{client: client}, nil
}

// NewValkeyStoreFromClient wraps an existing client.
func NewValkeyStoreFromClient(client valkey.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

// Get retrieves a value by key.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get error: %w", err)
	}
	return b, nil
}

// Set stores a value with TTL. Sub-millisecond TTLs round up to one
// millisecond.
func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
		cmd = s.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set error: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (s *ValkeyStore) Close() {
	s.client.Close()
}
