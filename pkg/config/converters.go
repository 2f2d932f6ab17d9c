package config

import (
	"time"

	"github.com/agentflow-go/pkg/database"
	"github.com/agentflow-go/pkg/events"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/resilience"
	"github.com/agentflow-go/pkg/telemetry"
)

// ToLoggerConfig converts LoggerConfig to logger.Config
func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

// ToDatabaseConfig converts DatabaseConfig to database.Config
func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Driver:       c.Driver,
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		SSLMode:      c.SSLMode,
		Path:         c.Path,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,

		SlowQueryThreshold: time.Duration(c.SlowQueryMs) * time.Millisecond,
	}
}

// ToKafkaConfig converts KafkaConfig to events.KafkaConfig
func (c KafkaConfig) ToKafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers: c.Brokers,
		Topic:   c.Topic,
	}
}

func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		JaegerURL:    c.JaegerURL,
		ServiceName:  c.ServiceName,
		SamplingRate: c.SamplingRate,
	}
}

// ToCircuitBreakerConfig builds the per-provider breaker template.
func (c CircuitBreakerConfig) ToCircuitBreakerConfig(name string) resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	if c.MaxRequests > 0 {
		cfg.MaxRequests = c.MaxRequests
	}
	if c.Interval > 0 {
		cfg.Interval = time.Duration(c.Interval) * time.Second
	}
	if c.Timeout > 0 {
		cfg.Timeout = time.Duration(c.Timeout) * time.Second
	}
	if c.FailureRatio > 0 {
		cfg.FailureRatio = c.FailureRatio
	}
	if c.MinRequests > 0 {
		cfg.MinRequests = c.MinRequests
	}
	return cfg
}
