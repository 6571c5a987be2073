// Package retry re-runs an operation with exponential backoff while its
// error is classified as transient.
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 4, Retryable: isRateLimited}, func() error {
//	    return client.SetAccountData(ctx, name, content)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls backoff between attempts.
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single call.
	MaxAttempts int
	// InitialDelay is the pause before the second attempt; it doubles after
	// every further failure, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Retryable reports whether err is worth another attempt. A nil
	// predicate treats every error as transient.
	Retryable func(err error) bool
}

// Default is tuned for homeserver calls that occasionally rate-limit.
var Default = Config{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. The last error seen is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = Default.InitialDelay
	}
	ceiling := cfg.MaxDelay
	if ceiling <= 0 {
		ceiling = Default.MaxDelay
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			return err
		}

		slog.Debug("retry: transient failure", "attempt", attempt, "of", attempts, "delay", delay, "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, ceiling)
	}
}
