package cache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis.
// Used as the pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.makeKey(key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.makeKey(key)).Err()
}

// counterScript records an increment in a sorted set scored by time,
// drops members that have aged out of the trailing window, and returns the
// live cardinality. Add, trim, and count run as one atomic step so
// concurrent callers always see exact counts.
var counterScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	redis.call('ZADD', KEYS[1], now, ARGV[3])
	redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return redis.call('ZCARD', KEYS[1])
`)

// IncrementCounter atomically increments a sliding-window counter and
// returns the number of increments seen within the trailing window.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now().UnixNano()

	result, err := counterScript.Run(ctx, c.client,
		[]string{c.makeKey("counter:" + key)},
		now, window.Nanoseconds(), fmt.Sprintf("%d-%d", now, rand.Int63()), window.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, err
	}

	return result, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(key string) string {
	return "kestrel:" + key
}
