// Package retry runs an operation with exponential backoff until it
// succeeds, is classified as permanent, or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls backoff behaviour.
type Config struct {
	// MaxAttempts counts the first call too. Values below 1 mean a single
	// attempt with no retries.
	MaxAttempts int
	// InitialDelay is the wait after the first failure. Each further wait
	// doubles until MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// ShouldRetry classifies errors. Nil retries everything.
	ShouldRetry func(err error) bool
}

// DefaultConfig suits short network calls against flaky upstreams.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Do invokes fn until it returns nil, a permanent error, the attempt budget
// is spent, or ctx is done. The last attempt's error is returned; context
// cancellation is joined onto it so callers can match either.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return lastErr
		}

		slog.Debug("retry: waiting before next attempt",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"delay", delay, "err", lastErr)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
