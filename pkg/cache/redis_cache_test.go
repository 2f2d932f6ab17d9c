package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T, opts *Options) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	c, mr := setupTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "calc", map[string]interface{}{"result": 4.0}, time.Minute))
	assert.True(t, mr.Exists("agentflow:calc"))

	var out map[string]interface{}
	require.NoError(t, c.Get(ctx, "calc", &out))
	assert.Equal(t, 4.0, out["result"])

	require.NoError(t, c.Delete(ctx, "calc"))
	assert.ErrorIs(t, c.Get(ctx, "calc", &out), ErrCacheMiss)
}

func TestRedisCache_DefaultTTL(t *testing.T) {
	opts := DefaultOptions()
	opts.Namespace = "tools"
	opts.DefaultTTL = 10 * time.Second
	c, mr := setupTestCache(t, opts)

	require.NoError(t, c.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, 10*time.Second, mr.TTL("tools:k"))

	mr.FastForward(11 * time.Second)
	var out string
	assert.ErrorIs(t, c.Get(context.Background(), "k", &out), ErrCacheMiss)
}

func TestRedisCache_Ping(t *testing.T) {
	c, _ := setupTestCache(t, nil)
	assert.NoError(t, c.Ping(context.Background()))
}
