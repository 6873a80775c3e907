package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neurastack/gateway/internal/config"
)

// RedisClient is the thin JSON wrapper over go-redis used as the external
// cache store.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates the client from config. A nil config yields a client
// whose connections fail, which keeps the cache memory-only.
func NewRedisClient(cfg *config.RedisConfig) *RedisClient {
	if cfg == nil {
		return &RedisClient{client: redis.NewClient(&redis.Options{
			Addr: "localhost:0",
		})}
	}
	return &RedisClient{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewRedisClientFromAddr creates a client for a raw address. Used by tests.
func NewRedisClientFromAddr(addr string) *RedisClient {
	return &RedisClient{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// IsMiss reports whether a Get error is a plain cache miss.
func IsMiss(err error) bool {
	return err == redis.Nil
}
