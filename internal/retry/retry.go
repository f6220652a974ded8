// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// BackoffFunc returns how long to wait after the given failed attempt (0-based)
type BackoffFunc func(attempt int) time.Duration

// Config defines retry behavior
type Config struct {
	MaxAttempts int         // Maximum number of attempts, including the first
	Backoff     BackoffFunc // Delay between attempts; nil means no delay
	Retryable   func(error) bool
	OnRetry     func(attempt int, err error, wait time.Duration)
	Name        string // Operation name used in log lines
}

// Exponential backs off initial * multiplier^attempt, capped at max
func Exponential(initial, max time.Duration, multiplier float64) BackoffFunc {
	return func(attempt int) time.Duration {
		backoff := float64(initial) * math.Pow(multiplier, float64(attempt))
		if max > 0 && backoff > float64(max) {
			backoff = float64(max)
		}
		return time.Duration(backoff)
	}
}

// Linear backs off step, 2*step, 3*step, ...
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

// Constant always waits d
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return d
	}
}

// WithRetry executes the given function with retry logic
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Do(ctx, cfg, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. The last error is wrapped so errors.Is/As still
// see the cause.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debug().
					Str("op", cfg.Name).
					Int("attempts", attempt+1).
					Msg("Retry succeeded")
			}
			return v, nil
		}

		lastErr = err

		if !shouldRetry(ctx, err, cfg) {
			log.Debug().
				Str("op", cfg.Name).
				Err(err).
				Msg("Error is not retryable")
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			var backoff time.Duration
			if cfg.Backoff != nil {
				backoff = cfg.Backoff(attempt)
			}

			log.Debug().
				Str("op", cfg.Name).
				Int("attempt", attempt+1).
				Int("max_attempts", attempts).
				Dur("backoff", backoff).
				Err(err).
				Msg("Retrying after backoff")

			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, err, backoff)
			}

			if err := Sleep(ctx, backoff); err != nil {
				return zero, err
			}
		}
	}

	log.Debug().
		Str("op", cfg.Name).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Max retry attempts exceeded")

	return zero, fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shouldRetry determines if an error is retryable. Only the caller's ctx
// decides cancellation: a context.Canceled from a callee's own context
// (a dropped connection, say) is retried like any other failure.
func shouldRetry(ctx context.Context, err error, cfg Config) bool {
	if err == nil {
		return false
	}

	// A cancelled caller never wants another attempt
	if ctx.Err() != nil {
		return false
	}

	if cfg.Retryable != nil {
		return cfg.Retryable(err)
	}

	if isTimeoutError(err) {
		return true
	}

	if tempErr, ok := err.(interface{ Temporary() bool }); ok {
		return tempErr.Temporary()
	}

	// Default: retry
	return true
}

// isTimeoutError checks if an error is a timeout error
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}

	return false
}
