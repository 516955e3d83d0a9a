package retry

import (
	"context"
	"math"
	"time"
)

// Func is an operation that can be retried
type Func func(ctx context.Context) error

// ErrorClassifier determines if an error is retryable
type ErrorClassifier func(error) bool

// Options defines the backoff configuration
type Options struct {
	// MaxAttempts bounds Do. Zero or negative means retry until ctx is done.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Classifier      ErrorClassifier
}

// DefaultOptions returns the backoff used for broker resubscription
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Do executes fn with exponential backoff between failed attempts
func Do(ctx context.Context, fn Func, opts Options) error {
	var lastErr error

	for attempt := 1; opts.MaxAttempts <= 0 || attempt <= opts.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if opts.Classifier != nil && !opts.Classifier(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := Wait(ctx, attempt, opts); err != nil {
			return err
		}
	}

	return lastErr
}

// Wait sleeps for the backoff interval of the given attempt or until ctx is done
func Wait(ctx context.Context, attempt int, opts Options) error {
	timer := time.NewTimer(CalculateBackoff(attempt, opts))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CalculateBackoff returns the interval for a specific attempt number
func CalculateBackoff(attempt int, opts Options) time.Duration {
	if attempt <= 1 {
		return capInterval(opts.InitialInterval, opts.MaxInterval)
	}

	interval := float64(opts.InitialInterval) * math.Pow(opts.Multiplier, float64(attempt-1))
	if opts.MaxInterval > 0 && interval > float64(opts.MaxInterval) {
		return opts.MaxInterval
	}
	return time.Duration(interval)
}

func capInterval(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
