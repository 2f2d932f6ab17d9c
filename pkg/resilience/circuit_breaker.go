package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// CircuitBreaker wraps sony/gobreaker with context support and typed errors
type CircuitBreaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

type CircuitBreakerConfig struct {
	Name          string
	MaxRequests   uint32        // Max requests in half-open state
	Interval      time.Duration // Cyclic period for clearing counts
	Timeout       time.Duration // Period of open state before half-open
	FailureRatio  float64       // Failure ratio to trip the breaker
	MinRequests   uint32        // Minimum requests before evaluating
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to gobreaker.State)
}

func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		IsSuccessful:  cfg.IsSuccessful,
		OnStateChange: cfg.OnStateChange,
	}

	return &CircuitBreaker{
		cb:   gobreaker.NewCircuitBreaker(settings),
		name: cfg.Name,
	}
}

// ExecuteWithContext runs fn under breaker protection. gobreaker's own
// open-state errors are translated to ErrCircuitOpen / ErrTooManyRequests.
func (c *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return fn(ctx)
		}
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, ErrCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrTooManyRequests
	}
	return result, err
}

func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}

func (c *CircuitBreaker) Name() string {
	return c.name
}
