//go:build integration

package cache

import (
	"testing"

	"github.com/redis/go-redis/v9"

	pkgtesting "github.com/mycobrun/cobrun-location/testing"
)

func startRedis(t *testing.T) *redis.Options {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := pkgtesting.TestContextWithTimeout(t, pkgtesting.ContainerStartupTimeout)
	c, err := pkgtesting.StartRedisContainer(ctx)
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(pkgtesting.CleanupContainer(ctx, c))

	opts, err := redis.ParseURL(c.ConnectionString)
	if err != nil {
		t.Fatalf("ParseURL(%q): %v", c.ConnectionString, err)
	}
	return opts
}

func TestRedisStore_Container(t *testing.T) {
	opts := startRedis(t)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore(rdb, "location-api:")
	if err := s.Ping(pkgtesting.TestContext(t)); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	storeContract(t, s)
}

func TestValkeyStore_Container(t *testing.T) {
	opts := startRedis(t)

	s, err := NewValkeyStore(opts.Addr, opts.Password)
	if err != nil {
		t.Fatalf("NewValkeyStore: %v", err)
	}
	t.Cleanup(s.Close)

	storeContract(t, s)
}
