package retry

import (
	"context"
	"fmt"
	"time"
)

// Kind selects how the wait grows between attempts.
type Kind string

const (
	Fixed       Kind = "fixed"
	Exponential Kind = "exponential"
	Quadratic   Kind = "quadratic"
)

// MaxDelay caps every computed wait.
const MaxDelay = 24 * time.Hour

// Policy computes the wait after a failed attempt.
type Policy struct {
	Kind Kind
	Base time.Duration
}

// Delay returns the wait after the given 1-indexed attempt failed.
//
// With Base=1s:
//
//	fixed:       1s, 1s, 1s ...
//	exponential: 1s, 2s, 4s ...
//	quadratic:   1s, 4s, 9s ...
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Base <= 0 {
		return 0
	}
	var factor int64
	switch p.Kind {
	case Fixed:
		factor = 1
	case Exponential:
		if attempt > 62 {
			return MaxDelay
		}
		factor = 1 << (attempt - 1)
	default:
		if int64(attempt) > 3_037_000_499 {
			return MaxDelay
		}
		factor = int64(attempt) * int64(attempt)
	}
	if int64(p.Base) > int64(MaxDelay)/factor {
		return MaxDelay
	}
	return p.Base * time.Duration(factor)
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// Policy is the backoff between attempts. The zero Kind is quadratic.
	Policy Policy
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times.
// Returns nil on first success, or the last error after all attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		select {
		case <-time.After(cfg.Policy.Delay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
