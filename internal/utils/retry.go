package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds a retry loop. Delay doubles after every failed
// attempt (2s, 4s, 8s, ...) up to MaxDelay.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry matches the transient-failure profile of mobile network
// transitions: 3 attempts, short backoff.
var DefaultRetry = RetryConfig{
	Attempts:  3,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  5 * time.Second,
}

// Retry runs fn until it succeeds, the attempt budget is spent, or the
// context is cancelled. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.Attempts, lastErr)
}
