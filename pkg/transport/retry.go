package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig configures retry behavior for transport operations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first (default: 3)
	MaxAttempts int

	// InitialBackoff is the initial backoff duration (default: 1s)
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (default: 30s)
	MaxBackoff time.Duration

	// BackoffFactor is the exponential backoff multiplier (default: 2.0)
	BackoffFactor float64

	// RetryableStatus is the list of HTTP status codes that should be retried.
	// Default: [408, 429, 500, 502, 503, 504]
	RetryableStatus []int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialBackoff:  1 * time.Second,
		MaxBackoff:      30 * time.Second,
		BackoffFactor:   2.0,
		RetryableStatus: []int{408, 429, 500, 502, 503, 504},
	}
}

// Validate checks if the retry configuration is valid.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff must be non-negative, got %v", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be >= 1.0, got %f", c.BackoffFactor)
	}
	return nil
}

// IsRetryableStatus returns true if the given status code should be retried.
func (c *RetryConfig) IsRetryableStatus(statusCode int) bool {
	for _, code := range c.RetryableStatus {
		if code == statusCode {
			return true
		}
	}
	return false
}

// AttemptFunc executes a single request attempt. When the attempt produced a
// response it is returned even alongside an error so the caller can inspect
// the failed exchange.
type AttemptFunc func(ctx context.Context) (*Response, error)

// Retry runs the given function with bounded retries.
//
// Retry behavior:
//   - Retries on retryable status codes (408, 429, 5xx by default)
//   - Retries on network errors and timeouts
//   - Does NOT retry on other 4xx errors
//   - Respects the Retry-After header when present
//   - Stops immediately on context cancellation
//
// When all attempts fail, the last response (if any) is returned together
// with the last error.
func Retry(ctx context.Context, config *RetryConfig, fn AttemptFunc) (*Response, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	var lastResp *Response

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastResp, lastErr = fn(ctx)

		// Success - return immediately
		if lastErr == nil {
			if lastResp.Metadata == nil {
				lastResp.Metadata = make(map[string]any)
			}
			lastResp.Metadata[MetadataRetryCount] = attempt - 1
			return lastResp, nil
		}

		if attempt >= config.MaxAttempts || !shouldRetry(lastErr, config) {
			return lastResp, lastErr
		}

		// Check context before sleeping
		if ctx.Err() != nil {
			return lastResp, &Error{
				Type:      ErrorTypeCancelled,
				Message:   "request cancelled before retry",
				Retryable: false,
				Cause:     ctx.Err(),
			}
		}

		delay := backoffDelay(config, attempt, retryAfterHint(lastResp))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastResp, &Error{
				Type:      ErrorTypeCancelled,
				Message:   "request cancelled during retry backoff",
				Retryable: false,
				Cause:     ctx.Err(),
			}
		}
	}

	return lastResp, lastErr
}

// shouldRetry determines if an error warrants another attempt.
func shouldRetry(err error, config *RetryConfig) bool {
	var terr *Error
	if !errors.As(err, &terr) {
		// Unknown error type - don't retry
		return false
	}

	if !terr.Retryable {
		return false
	}

	// For HTTP status code errors, check the configured list
	if terr.StatusCode > 0 {
		return config.IsRetryableStatus(terr.StatusCode)
	}

	return true
}

// backoffDelay calculates the delay before the next attempt.
//
// Formula: delay = min(InitialBackoff * BackoffFactor^(attempt-1), MaxBackoff) + jitter
// Jitter: random [0ms, 100ms]. A Retry-After hint raises the delay up to MaxBackoff.
func backoffDelay(config *RetryConfig, attempt int, retryAfter time.Duration) time.Duration {
	baseDelay := float64(config.InitialBackoff) * pow(config.BackoffFactor, attempt-1)

	if baseDelay > float64(config.MaxBackoff) {
		baseDelay = float64(config.MaxBackoff)
	}

	delay := time.Duration(baseDelay)

	if retryAfter > 0 {
		if retryAfter > delay {
			delay = retryAfter
		}
		if delay > config.MaxBackoff {
			delay = config.MaxBackoff
		}
	}

	jitter := time.Duration(rand.Int63n(101)) * time.Millisecond

	return delay + jitter
}

// retryAfterHint extracts the Retry-After header from the last response.
// Returns 0 if absent or malformed.
//
// Supports two formats:
//   - Numeric: seconds to wait (e.g., "120")
//   - HTTP-date: absolute time (e.g., "Wed, 21 Oct 2015 07:28:00 GMT")
func retryAfterHint(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header("Retry-After")
	if raw == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	retryTime, err := http.ParseTime(raw)
	if err != nil {
		// Malformed Retry-After - fall back to calculated backoff
		return 0
	}

	delay := time.Until(retryTime)
	if delay < 0 {
		return 0
	}
	return delay
}

// pow calculates base^exp for integer exponents.
func pow(base float64, exp int) float64 {
	if exp == 0 {
		return 1.0
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
