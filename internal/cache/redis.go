package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stocksync/pkg/breaker"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stocksync_cache_requests_total",
		Help: "Availability cache lookups by scope and result (hit, miss, error)",
	},
	[]string{"scope", "result"},
)

// setIfNewer writes "version:available" unless the key already holds an equal
// or newer version.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local v = tonumber(string.match(cur, '^(%-?%d+):'))
	if v and v >= tonumber(ARGV[1]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache stores central availabilities as plain integers and store
// availabilities as "version:available", both with a TTL. Calls go
// through a circuit breaker so a struggling Redis is skipped quickly.
type RedisCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	breaker *breaker.Breaker[int]
}

var _ AvailabilityCache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed availability cache.
func NewRedisCache(client redis.Cmdable, ttl time.Duration, cbCfg breaker.Config, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	isMiss := func(err error) bool { return errors.Is(err, redis.Nil) }
	return &RedisCache{
		client:  client,
		ttl:     ttl,
		breaker: breaker.New[int](cbCfg, isMiss, logger),
	}
}

func (c *RedisCache) get(ctx context.Context, scope, key string) (int, bool, error) {
	v, err := c.breaker.Execute(func() (int, error) {
		return c.client.Get(ctx, key).Int()
	})
	switch {
	case err == nil:
		requestsTotal.WithLabelValues(scope, "hit").Inc()
		return v, true, nil
	case errors.Is(err, redis.Nil):
		requestsTotal.WithLabelValues(scope, "miss").Inc()
		return 0, false, nil
	default:
		requestsTotal.WithLabelValues(scope, "error").Inc()
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
}

func (c *RedisCache) set(ctx context.Context, key string, available int) error {
	_, err := c.breaker.Execute(func() (int, error) {
		return 0, c.client.Set(ctx, key, available, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// GetStore returns the cached availability of sku at storeID.
func (c *RedisCache) GetStore(ctx context.Context, sku, storeID string) (int, bool, error) {
	key := StoreKey(sku, storeID)
	raw, err := c.breaker.Execute(func() (int, error) {
		s, err := c.client.Get(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		return parseVersioned(s)
	})
	switch {
	case err == nil:
		requestsTotal.WithLabelValues("store", "hit").Inc()
		return raw, true, nil
	case errors.Is(err, redis.Nil):
		requestsTotal.WithLabelValues("store", "miss").Inc()
		return 0, false, nil
	default:
		requestsTotal.WithLabelValues("store", "error").Inc()
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
}

// SetStore caches the availability of sku at storeID unless a newer product
// version is already cached.
func (c *RedisCache) SetStore(ctx context.Context, sku, storeID string, available int, version int64) error {
	key := StoreKey(sku, storeID)
	_, err := c.breaker.Execute(func() (int, error) {
		return setIfNewer.Run(ctx, c.client, []string{key}, version, available, c.ttl.Milliseconds()).Int()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func parseVersioned(s string) (int, error) {
	_, available, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("malformed cache entry %q", s)
	}
	return strconv.Atoi(available)
}

// GetCentral returns the cached network-wide availability of sku.
func (c *RedisCache) GetCentral(ctx context.Context, sku string) (int, bool, error) {
	return c.get(ctx, "central", CentralKey(sku))
}

// SetCentral caches the network-wide availability of sku.
func (c *RedisCache) SetCentral(ctx context.Context, sku string, available int) error {
	return c.set(ctx, CentralKey(sku), available)
}

// InvalidateCentral drops the central entries of skus.
func (c *RedisCache) InvalidateCentral(ctx context.Context, skus ...string) error {
	if len(skus) == 0 {
		return nil
	}
	keys := make([]string, 0, len(skus))
	for _, sku := range skus {
		keys = append(keys, CentralKey(sku))
	}
	_, err := c.breaker.Execute(func() (int, error) {
		n, err := c.client.Del(ctx, keys...).Result()
		return int(n), err
	})
	if err != nil {
		return fmt.Errorf("redis del central keys: %w", err)
	}
	return nil
}
