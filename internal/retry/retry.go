// Package retry wraps transient operations with exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig returns the schedule used for LLM and remote API calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Permanent marks err as non-retryable. The next Do call returns it
// immediately without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn with exponential backoff until it succeeds, the attempt budget
// is exhausted, ctx is cancelled, or fn returns a Permanent error.
func Do(ctx context.Context, cfg Config, logger *slog.Logger, op string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = cfg.Multiplier

	var policy backoff.BackOff = b
	if cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, cfg.MaxAttempts-1)
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			return fn()
		},
		policy,
		func(err error, wait time.Duration) {
			logger.Warn("operation failed, retrying",
				"op", op, "attempt", attempt, "wait", wait, "error", err)
		},
	)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, cfg Config, logger *slog.Logger, op string, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, logger, op, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
