package providers

import (
	"context"
	"errors"
	"time"

	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/agentflow-go/pkg/ratelimit"
	"github.com/agentflow-go/pkg/resilience"
)

// ResilientProvider decorates a ChatProvider with rate limiting, bounded
// retry and a circuit breaker.
type ResilientProvider struct {
	next    ChatProvider
	limiter ratelimit.RateLimiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  logger.Logger
}

// NewResilientProvider wraps next. limiter may be nil.
func NewResilientProvider(next ChatProvider, limiter ratelimit.RateLimiter, breakerCfg resilience.CircuitBreakerConfig, retryCfg resilience.RetryConfig, log logger.Logger) *ResilientProvider {
	breakerCfg.Name = next.Name()
	// Configuration and client errors say nothing about provider health.
	breakerCfg.IsSuccessful = func(err error) bool {
		return err == nil || !IsTransient(err)
	}
	retryCfg.ShouldRetry = IsTransient

	return &ResilientProvider{
		next:    next,
		limiter: limiter,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		retry:   retryCfg,
		logger:  log.With("provider", next.Name()),
	}
}

func (p *ResilientProvider) Name() string {
	return p.next.Name()
}

func (p *ResilientProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderDuration(p.next.Name(), time.Since(start).Seconds())
	}()

	attempt := 0
	return resilience.RetryWithResult(ctx, p.retry, func() (*CompletionResponse, error) {
		attempt++
		if attempt > 1 {
			p.logger.Warn("Retrying provider request", "attempt", attempt)
		}

		if p.limiter != nil {
			allowed, err := p.limiter.Allow(ctx, p.next.Name())
			if err != nil {
				p.logger.Warn("Rate limiter unavailable, allowing request", "error", err)
			} else if !allowed {
				return nil, ErrRateLimited
			}
		}

		out, err := p.breaker.ExecuteWithContext(ctx, func(ctx context.Context) (interface{}, error) {
			return p.next.Complete(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return out.(*CompletionResponse), nil
	})
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRateLimited):
		return true
	case errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrUnsupportedProvider),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return resilience.IsRetryableHTTPStatus(apiErr.StatusCode)
	}
	// Transport failures.
	return true
}
