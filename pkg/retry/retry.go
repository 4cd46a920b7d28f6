package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultInterval    = 5 * time.Second
)

type Operation func() error

type ExponentialConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // 0 means retry forever
	OnRetry         func(error, time.Duration)
}

// Exponential retries fn with exponential backoff and bounded jitter until it
// succeeds, the context is cancelled, or MaxElapsedTime passes.
func Exponential(ctx context.Context, fn Operation, cfg ExponentialConfig) error {
	if cfg.InitialInterval <= 0 {
		return errors.New("initial interval must be > 0")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	if cfg.MaxInterval > 0 {
		bo.MaxInterval = cfg.MaxInterval
	}
	bo.MaxElapsedTime = cfg.MaxElapsedTime

	return backoff.RetryNotify(
		backoff.Operation(fn),
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			if cfg.OnRetry != nil {
				cfg.OnRetry(err, next)
			}
		},
	)
}

// Constant retries fn a fixed number of times with a fixed interval.
func Constant(fn Operation, interval time.Duration, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts {
			time.Sleep(interval)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// Permanent marks err so Exponential stops retrying and returns it as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
