package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache interface using Redis
type RedisCache struct {
	client  *redis.Client
	options *Options
	codec   Codec
}

func NewRedisCache(client *redis.Client, opts *Options) *RedisCache {
	if opts == nil {
		opts = DefaultOptions()
	}

	if opts.Codec == nil {
		opts.Codec = &JSONCodec{}
	}

	return &RedisCache{
		client:  client,
		options: opts,
		codec:   opts.Codec,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get error: %w", err)
	}

	if err := c.codec.Decode(data, dest); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}

	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	if ttl <= 0 {
		ttl = c.options.DefaultTTL
	}

	if err := c.client.Set(ctx, c.buildKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.buildKey(key)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) buildKey(key string) string {
	if c.options.Namespace == "" {
		return key
	}
	return c.options.Namespace + ":" + key
}
