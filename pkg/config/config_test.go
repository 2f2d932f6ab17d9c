package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("agentflow-test-missing")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Engine.MemoryWindow)
	assert.Equal(t, 600, cfg.Engine.ToolCacheTTL)
	assert.Equal(t, "local", cfg.Providers.RateLimitBackend)
	assert.Equal(t, 3, cfg.Providers.MaxAttempts)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Providers.OpenAI.BaseURL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Empty(t, cfg.Schedules)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTFLOW_SERVER_PORT", "9090")
	t.Setenv("AGENTFLOW_DATABASE_DRIVER", "sqlite")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	cfg, err := Load("agentflow-test-missing")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "ak-test", cfg.Providers.Anthropic.APIKey)
}

func TestConverters(t *testing.T) {
	db := DatabaseConfig{Driver: "sqlite", Path: "x.db", MaxOpenConns: 4}.ToDatabaseConfig()
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, "x.db", db.Path)
	assert.Equal(t, 4, db.MaxOpenConns)

	kafka := KafkaConfig{Brokers: []string{"b:9092"}, Topic: "t"}.ToKafkaConfig()
	assert.Equal(t, []string{"b:9092"}, kafka.Brokers)
	assert.Equal(t, "t", kafka.Topic)
}

func TestToCircuitBreakerConfig(t *testing.T) {
	defaults := CircuitBreakerConfig{}.ToCircuitBreakerConfig("openai")
	assert.Equal(t, "openai", defaults.Name)
	assert.Equal(t, uint32(3), defaults.MaxRequests)
	assert.Equal(t, 30*time.Second, defaults.Timeout)

	custom := CircuitBreakerConfig{MaxRequests: 1, Timeout: 5, FailureRatio: 0.9, MinRequests: 2}.ToCircuitBreakerConfig("anthropic")
	assert.Equal(t, uint32(1), custom.MaxRequests)
	assert.Equal(t, 5*time.Second, custom.Timeout)
	assert.Equal(t, 0.9, custom.FailureRatio)
	assert.Equal(t, uint32(2), custom.MinRequests)
	assert.Equal(t, 30*time.Second, custom.Interval)
}

func TestAddrAndDSN(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())

	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
