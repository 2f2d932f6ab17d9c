package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/agentflow-go/internal/agent/adapters/providers"
	"github.com/agentflow-go/internal/agent/app/invoker"
	"github.com/agentflow-go/internal/execution/adapters/db/repository"
	"github.com/agentflow-go/internal/execution/adapters/http/handlers"
	"github.com/agentflow-go/internal/execution/app/dispatcher"
	"github.com/agentflow-go/internal/execution/app/engine"
	"github.com/agentflow-go/internal/execution/app/reporter"
	"github.com/agentflow-go/internal/execution/app/scheduler"
	cronscheduler "github.com/agentflow-go/internal/schedule/app/scheduler"
	"github.com/agentflow-go/internal/tools/app/registry"
	wsserver "github.com/agentflow-go/internal/websocket/server"
	"github.com/agentflow-go/pkg/cache"
	"github.com/agentflow-go/pkg/config"
	"github.com/agentflow-go/pkg/database"
	"github.com/agentflow-go/pkg/events"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/agentflow-go/pkg/ratelimit"
	"github.com/agentflow-go/pkg/resilience"
	"github.com/agentflow-go/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	redis      *redis.Client
	mirror     events.Publisher
	telemetry  *telemetry.Telemetry
	hub        *wsserver.Hub
	cron       *cronscheduler.CronScheduler
	engine     *engine.Engine
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	s := &Server{config: cfg, logger: log}
	if err := s.init(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	cfg := s.config
	log := s.logger

	// Initialize database
	db, err := database.New(cfg.Database.ToDatabaseConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	execRepo := repository.NewExecutionRepository(db)
	if cfg.Database.AutoMigrate {
		if err := execRepo.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Initialize Redis
	if cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := s.redis.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	// Initialize event bus mirror
	if cfg.Kafka.Enabled {
		bus, err := events.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig(), log)
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		s.mirror = bus
	}

	tel, err := telemetry.New(cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel

	// Progress notifier
	s.hub = wsserver.NewHub(log, s.mirror)
	progress := reporter.New(execRepo, s.hub, log)

	// Tools
	toolRegistry, err := registry.NewDefaultRegistry(registry.NewPublicHTTPClient(30 * time.Second))
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}
	var toolCache cache.Cache
	if s.redis != nil {
		opts := cache.DefaultOptions()
		opts.Namespace = "agentflow:tools"
		if cfg.Engine.ToolCacheTTL > 0 {
			opts.DefaultTTL = time.Duration(cfg.Engine.ToolCacheTTL) * time.Second
		}
		toolCache = cache.NewRedisCache(s.redis, opts)
	}
	toolExecutor := registry.NewExecutor(toolRegistry, toolCache, log)

	// Providers
	providerRegistry := s.buildProviders()

	agentInvoker := invoker.New(execRepo, providerRegistry, toolExecutor, progress, log, cfg.Engine.MemoryWindow)
	nodeDispatcher := dispatcher.New(execRepo, agentInvoker, log)
	nodeScheduler := scheduler.New(nodeDispatcher, progress, tel.Tracer(), log)
	s.engine = engine.New(execRepo, nodeScheduler, progress, tel.Tracer(), log)

	// Scheduled triggers
	s.cron = cronscheduler.NewCronScheduler(s.engine, log)
	for _, sc := range cfg.Schedules {
		if err := s.cron.AddSchedule(cronscheduler.Schedule{
			WorkflowID: sc.WorkflowID,
			Cron:       sc.Cron,
			Input:      sc.Input,
		}); err != nil {
			return fmt.Errorf("failed to register schedule for workflow %s: %w", sc.WorkflowID, err)
		}
	}

	// HTTP
	execHandlers := handlers.NewExecutionHandlers(s.engine, db, log)
	wsHandler := wsserver.NewHandler(s.hub, wsserver.NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), log)
	router := setupRouter(execHandlers, wsHandler, log)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return nil
}

// buildProviders wraps every provider variant in rate limiting, retry and a
// circuit breaker. Providers without credentials are still registered so the
// invocation fails with a configuration error instead of "unsupported".
func (s *Server) buildProviders() *providers.Registry {
	cfg := s.config.Providers

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}

	openAI := providers.NewOpenAIProvider(providers.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Timeout: time.Duration(cfg.OpenAI.Timeout) * time.Second,
	})
	anthropic := providers.NewAnthropicProvider(providers.Config{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Timeout: time.Duration(cfg.Anthropic.Timeout) * time.Second,
	})

	return providers.NewRegistry(
		providers.NewResilientProvider(openAI, s.limiter(cfg.OpenAI), cfg.CircuitBreaker.ToCircuitBreakerConfig(openAI.Name()), retryCfg, s.logger),
		providers.NewResilientProvider(anthropic, s.limiter(cfg.Anthropic), cfg.CircuitBreaker.ToCircuitBreakerConfig(anthropic.Name()), retryCfg, s.logger),
	)
}

func (s *Server) limiter(pc config.ProviderConfig) ratelimit.RateLimiter {
	if pc.RequestsPerSecond <= 0 {
		return nil
	}
	if s.config.Providers.RateLimitBackend == "redis" {
		if s.redis != nil {
			limit := int(math.Ceil(pc.RequestsPerSecond))
			return ratelimit.NewRedisRateLimiter(s.redis, limit, time.Second)
		}
		s.logger.Warn("Redis rate limiting requested but Redis is disabled, using local limiter")
	}
	return ratelimit.NewTokenBucketLimiter(pc.RequestsPerSecond, pc.Burst)
}

func setupRouter(h *handlers.ExecutionHandlers, ws *wsserver.Handler, log logger.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(metricsMiddleware())

	// Health checks
	router.GET("/health/live", h.Health)
	router.GET("/health/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Progress stream
	router.GET("/ws", ws.ServeWS)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/workflows/:id/execute", h.ExecuteWorkflow)
		v1.GET("/executions/:id", h.GetExecution)
	}

	return router
}

// Engine exposes the run entry point for in-process callers.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func (s *Server) Start() error {
	s.cron.Start()

	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.cron.Stop(ctx)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.hub.Close()
	if err := s.telemetry.Close(ctx); err != nil {
		s.logger.Error("Failed to flush traces", "error", err)
	}
	s.close()

	return nil
}

func (s *Server) close() {
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			s.logger.Error("Failed to close event bus", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", "error", err)
		}
	}
}

// Middleware functions
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, X-User-ID, accept, origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps the label set bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
