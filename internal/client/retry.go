package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"turnstile/internal/logging"
)

// RetryConfig holds retry configuration used across all backends.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum backoff delay (cap)
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// CalculateBackoff calculates exponential backoff with up to 25% jitter.
func CalculateBackoff(baseDelay time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	delay := baseDelay * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	if delay < 4 {
		return delay
	}
	jitter := time.Duration(rand.Int63n(int64(delay / 4)))
	return delay + jitter
}

// withRetry opens a stream, retrying retryable failures with backoff.
// Only the opening of a stream is retried; once chunks flow, errors are
// delivered on the stream.
func withRetry(ctx context.Context, provider string, cfg RetryConfig, open func() (*StreamingResponse, error)) (*StreamingResponse, error) {
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(cfg.RetryDelay, attempt-1, cfg.MaxDelay)
			logging.Info("retrying backend request", "provider", provider, "attempt", attempt, "delay", delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		resp, err := open()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		logging.Warn("backend request failed, will retry", "provider", provider, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
