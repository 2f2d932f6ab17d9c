package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Logger    LoggerConfig     `mapstructure:"logger"`
	Providers ProvidersConfig  `mapstructure:"providers"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres or sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite file
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	SlowQueryMs  int    `mapstructure:"slow_query_ms"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

type ProvidersConfig struct {
	OpenAI           ProviderConfig       `mapstructure:"openai"`
	Anthropic        ProviderConfig       `mapstructure:"anthropic"`
	RateLimitBackend string               `mapstructure:"rate_limit_backend"` // local or redis
	CircuitBreaker   CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	MaxAttempts      int                  `mapstructure:"max_attempts"`
}

type ProviderConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Timeout           int     `mapstructure:"timeout"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CircuitBreakerConfig struct {
	MaxRequests  uint32  `mapstructure:"max_requests"`
	Interval     int     `mapstructure:"interval"`
	Timeout      int     `mapstructure:"timeout"`
	FailureRatio float64 `mapstructure:"failure_ratio"`
	MinRequests  uint32  `mapstructure:"min_requests"`
}

type EngineConfig struct {
	MemoryWindow int `mapstructure:"memory_window"`
	ToolCacheTTL int `mapstructure:"tool_cache_ttl"`
}

type ScheduleConfig struct {
	WorkflowID string                 `mapstructure:"workflow_id"`
	Cron       string                 `mapstructure:"cron"`
	Input      map[string]interface{} `mapstructure:"input"`
}

func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/agentflow")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AGENTFLOW")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(v, &config)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)
	v.SetDefault("server.shutdown_timeout", 30)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentflow")
	v.SetDefault("database.password", "agentflow")
	v.SetDefault("database.name", "agentflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "agentflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.slow_query_ms", 200)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "agentflow.progress")

	v.SetDefault("auth.jwt_secret", "development-secret-key-change-in-production")
	v.SetDefault("auth.issuer", "agentflow")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("telemetry.service_name", "agentflow-engine")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
	v.SetDefault("logger.stacktrace", false)

	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.timeout", 120)
	v.SetDefault("providers.openai.requests_per_second", 5)
	v.SetDefault("providers.openai.burst", 10)
	v.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("providers.anthropic.timeout", 120)
	v.SetDefault("providers.anthropic.requests_per_second", 5)
	v.SetDefault("providers.anthropic.burst", 10)
	v.SetDefault("providers.rate_limit_backend", "local")
	v.SetDefault("providers.max_attempts", 3)
	v.SetDefault("providers.circuit_breaker.max_requests", 3)
	v.SetDefault("providers.circuit_breaker.interval", 30)
	v.SetDefault("providers.circuit_breaker.timeout", 30)
	v.SetDefault("providers.circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("providers.circuit_breaker.min_requests", 5)

	v.SetDefault("engine.memory_window", 5)
	v.SetDefault("engine.tool_cache_ttl", 600)
}

func overrideFromEnv(v *viper.Viper, cfg *Config) {
	// Provider keys are usually exported without the AGENTFLOW_ prefix
	v.BindEnv("OPENAI_API_KEY_RAW", "OPENAI_API_KEY")
	v.BindEnv("ANTHROPIC_API_KEY_RAW", "ANTHROPIC_API_KEY")

	if key := v.GetString("OPENAI_API_KEY_RAW"); key != "" && cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = key
	}
	if key := v.GetString("ANTHROPIC_API_KEY_RAW"); key != "" && cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = key
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if servicePort := v.GetInt("SERVER_PORT"); servicePort != 0 {
		cfg.Server.Port = servicePort
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
