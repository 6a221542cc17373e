// Package retry implements exponential backoff with jitter for the
// transient remote-object-protocol errors the chunk I/O adapter sees.
// Transient remote errors are never retried silently inside the cache
// itself — this package is what the chunk adapter uses instead, before the
// error ever reaches internal/cache.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/duo/telegram-fuse/internal/logging"
)

// Func is an operation that can be retried.
type Func func() error

// Config holds the backoff schedule.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	Retryable    func(error) bool
}

// DefaultConfig retries up to 3 times with 500ms..10s exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		Retryable:    func(error) bool { return true },
	}
}

// Do runs op, retrying on failure per cfg until it succeeds, the retry
// budget is exhausted, or ctx is canceled.
func Do(ctx context.Context, op Func, cfg Config) error {
	delay := cfg.InitialDelay
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			return err
		}

		jitter := time.Duration(rand.Float64() * float64(delay) * cfg.Jitter)
		wait := delay + jitter

		logging.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxRetries", cfg.MaxRetries).
			Dur("delay", wait).
			Msg("retrying after transient error")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
