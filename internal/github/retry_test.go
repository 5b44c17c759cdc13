package github

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func respWithStatus(code int) *gogithub.Response {
	return &gogithub.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		cfg := &RetryConfig{}
		cfg.ApplyDefaults()

		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, time.Second, cfg.InitialBackoff)
		assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
		assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		cfg := &RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3}
		cfg.ApplyDefaults()

		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
		assert.Equal(t, time.Minute, cfg.MaxBackoff)
		assert.Equal(t, 3.0, cfg.BackoffMultiplier)
	})
}

func TestRetryOperation_SuccessAfterRetries(t *testing.T) {
	calls := 0
	resp, err := retryOperation(context.Background(), fastRetry(), nil, "test", func() (*gogithub.Response, error) {
		calls++
		if calls < 3 {
			return respWithStatus(http.StatusBadGateway), errors.New("bad gateway")
		}
		return respWithStatus(http.StatusCreated), nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestRetryOperation_NonRetryable(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity} {
		calls := 0
		_, err := retryOperation(context.Background(), fastRetry(), nil, "test", func() (*gogithub.Response, error) {
			calls++
			return respWithStatus(code), errors.New("client error")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d should not be retried", code)
	}
}

func TestRetryOperation_ExhaustsRetries(t *testing.T) {
	calls := 0
	_, err := retryOperation(context.Background(), fastRetry(), nil, "test", func() (*gogithub.Response, error) {
		calls++
		return respWithStatus(http.StatusServiceUnavailable), errors.New("unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 retries")
	assert.Equal(t, 4, calls)
}

func TestRetryOperation_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryOperation(ctx, fastRetry(), nil, "test", func() (*gogithub.Response, error) {
		calls++
		cancel()
		return respWithStatus(http.StatusInternalServerError), errors.New("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	err := errors.New("x")
	assert.False(t, isRetryableError(nil, nil))
	assert.True(t, isRetryableError(err, nil), "network errors are retryable")
	assert.True(t, isRetryableError(err, respWithStatus(http.StatusTooManyRequests)))
	assert.False(t, isRetryableError(err, respWithStatus(http.StatusForbidden)))

	limited := respWithStatus(http.StatusForbidden)
	limited.Rate = gogithub.Rate{Limit: 5000, Remaining: 0}
	assert.True(t, isRetryableError(err, limited))

	retryAfter := 2 * time.Second
	abuse := &gogithub.AbuseRateLimitError{RetryAfter: &retryAfter}
	assert.True(t, isRetryableError(abuse, respWithStatus(http.StatusForbidden)))
	wait, ok := secondaryRateLimitWait(abuse)
	assert.True(t, ok)
	assert.Equal(t, retryAfter, wait)
}

func TestRateLimitBackoff(t *testing.T) {
	resp := respWithStatus(http.StatusTooManyRequests)
	resp.Rate = gogithub.Rate{Limit: 5000, Remaining: 0, Reset: gogithub.Timestamp{Time: time.Now().Add(10 * time.Second)}}
	b := rateLimitBackoff(resp, time.Minute)
	assert.Greater(t, b, 9*time.Second)
	assert.LessOrEqual(t, b, 11*time.Second)

	assert.Equal(t, 5*time.Second, rateLimitBackoff(resp, 5*time.Second))
	assert.Equal(t, 30*time.Second, rateLimitBackoff(respWithStatus(http.StatusTooManyRequests), 30*time.Second))
}
