package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastRetry(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestRetryWithResult_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	out, err := RetryWithResult(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResult_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	cfg := fastRetry(5)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, errTransient) }

	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetry(2), func() (int, error) {
		calls++
		return 0, errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestRetryWithResult_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithResult(ctx, fastRetry(3), func() (int, error) {
		calls++
		return 0, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("openai")
	cfg.MinRequests = 2
	cfg.FailureRatio = 0.5
	cfg.Timeout = time.Minute
	cb := NewCircuitBreaker(cfg)

	fail := func(context.Context) (interface{}, error) { return nil, errTransient }
	for i := 0; i < 2; i++ {
		_, err := cb.ExecuteWithContext(context.Background(), fail)
		assert.ErrorIs(t, err, errTransient)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	_, err := cb.ExecuteWithContext(context.Background(), fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "openai", cb.Name())
}

func TestCircuitBreaker_IgnoresErrorsReportedAsSuccessful(t *testing.T) {
	permanent := errors.New("missing credentials")
	cfg := DefaultCircuitBreakerConfig("anthropic")
	cfg.MinRequests = 1
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, permanent) }
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 5; i++ {
		_, err := cb.ExecuteWithContext(context.Background(), func(context.Context) (interface{}, error) {
			return nil, permanent
		})
		assert.ErrorIs(t, err, permanent)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404} {
		assert.False(t, IsRetryableHTTPStatus(code), code)
	}
}
