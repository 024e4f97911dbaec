package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"persona-chat/backend/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// Options selects the Redis server. URL accepts either a redis:// URL or a
// bare host:port.
type Options struct {
	URL      string
	Password string
	DB       int
	Prefix   string
}

// Client is a cache.Store backed by Redis
type Client struct {
	client *redis.Client
	prefix string
}

// NewClient builds a client; it does not dial until the first command
func NewClient(opts Options) *Client {
	addr := opts.URL
	if addr == "" {
		addr = "localhost:6379"
	}

	var redisOpts *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		redisOpts = parsed
	} else {
		redisOpts = &redis.Options{Addr: addr}
	}
	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB != 0 {
		redisOpts.DB = opts.DB
	}

	return &Client{client: redis.NewClient(redisOpts), prefix: opts.Prefix}
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client, prefix string) *Client {
	return &Client{client: rdb, prefix: prefix}
}

func (r *Client) key(k string) string {
	return r.prefix + k
}

// Set stores value under key with the given expiration
func (r *Client) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, expiration).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns cache.ErrMiss when the key does not exist
func (r *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Delete removes key
func (r *Client) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity; used by the health checker
func (r *Client) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (r *Client) Close() error {
	return r.client.Close()
}
