package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when a key is not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

// Cache defines the interface for cache operations
type Cache interface {
	// Get decodes the value stored under key into dest
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error

	Close() error
}

// Codec defines the interface for encoding/decoding cache values
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, dest interface{}) error
}

// JSONCodec implements Codec using JSON encoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func (c *JSONCodec) Decode(data []byte, dest interface{}) error {
	return json.Unmarshal(data, dest)
}

type Options struct {
	// DefaultTTL applies when Set is called with ttl <= 0
	DefaultTTL time.Duration

	// Namespace is a prefix for all cache keys
	Namespace string

	Codec Codec
}

func DefaultOptions() *Options {
	return &Options{
		DefaultTTL: 5 * time.Minute,
		Namespace:  "agentflow",
		Codec:      &JSONCodec{},
	}
}
