package resilience

import (
	"context"
	"time"
)

// RetryConfig bounds a retry loop. Delay doubles after each failed attempt.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry is a conservative default for transient I/O failures.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. It must only be used for idempotent operations; writes are never
// blindly retried. The last error is returned when all attempts fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	delay := cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
