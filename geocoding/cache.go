package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mycobrun/cobrun-location/cache"
	"github.com/mycobrun/cobrun-location/geo"
)

const (
	// DefaultPrecision is the number of decimals coordinates are rounded to
	// before keying. Six decimals is roughly 11cm at the equator.
	DefaultPrecision = 6

	// DefaultCacheTTL is how long a resolved address is kept.
	DefaultCacheTTL = 24 * time.Hour

	cacheKeyPrefix = "geocoding:reverse:"
)

// CacheKey returns the cache key for c. Coordinates that round to the same
// value at precision share a key.
func CacheKey(c geo.Coordinate, precision int) string {
	if precision < 0 {
		precision = 0
	}
	return fmt.Sprintf("%s%.*f:%.*f", cacheKeyPrefix,
		precision, geo.RoundTo(c.Latitude, precision),
		precision, geo.RoundTo(c.Longitude, precision))
}

// Cache stores resolved addresses keyed by rounded coordinate.
type Cache struct {
	store     cache.Store
	precision int
}

// NewCache creates an address cache over store.
func NewCache(store cache.Store, precision int) *Cache {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Cache{store: store, precision: precision}
}

// Precision returns the rounding precision used for keys.
func (c *Cache) Precision() int {
	return c.precision
}

// Get returns the cached address for coord. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, coord geo.Coordinate) (*Address, bool, error) {
	data, err := c.store.Get(ctx, CacheKey(coord, c.precision))
	if err != nil {
		return nil, false, fmt.Errorf("geocoding cache get: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	var addr Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return nil, false, fmt.Errorf("geocoding cache decode: %w", err)
	}
	return &addr, true, nil
}

// Put stores addr for coord. A ttl of zero or less uses DefaultCacheTTL.
func (c *Cache) Put(ctx context.Context, coord geo.Coordinate, addr *Address, ttl time.Duration) error {
	if addr == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	data, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("geocoding cache encode: %w", err)
	}
	if err := c.store.Set(ctx, CacheKey(coord, c.precision), data, ttl); err != nil {
		return fmt.Errorf("geocoding cache set: %w", err)
	}
	return nil
}
