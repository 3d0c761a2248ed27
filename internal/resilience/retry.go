package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls how transient store and CRM API failures are
// retried: a bounded number of attempts with exponential backoff and
// jitter between them.
type RetryConfig struct {
	// MaxAttempts counts every try including the first; 1 disables
	// retries.
	MaxAttempts int

	// BaseDelay is the sleep before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// Jitter randomizes each delay by up to ±(Jitter × delay).
	Jitter float64

	// Classify reports whether an error is worth retrying. Nil means
	// IsTransient.
	Classify func(error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig is tuned for per-record store calls during an
// import: short enough that a misbehaving batch does not stall the job.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// FromSettings builds a RetryConfig from operator-supplied settings,
// keeping the default for any value left unset.
func FromSettings(maxAttempts, baseDelayMs, maxDelayMs int, multiplier, jitter float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitter >= 0 {
		cfg.Jitter = jitter
	}
	return cfg
}

// Do runs fn until it succeeds, fails permanently, exhausts the attempt
// budget, or ctx ends. The last error is returned as-is.
func (c RetryConfig) Do(ctx context.Context, fn func(context.Context) error) error {
	c = c.normalized()
	classify := c.Classify
	if classify == nil {
		classify = IsTransient
	}

	delay := c.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !classify(err) || attempt >= c.MaxAttempts {
			return err
		}

		sleep := jittered(delay, c.Jitter)
		if c.OnRetry != nil {
			c.OnRetry(attempt, sleep, err)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay > c.MaxDelay {
			delay = c.MaxDelay
		}
	}
}

func (c RetryConfig) normalized() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// jittered spreads a delay over [delay − jitter×delay, delay + jitter×delay].
func jittered(delay time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return delay
	}
	spread := (rand.Float64()*2 - 1) * jitter * float64(delay)
	out := time.Duration(float64(delay) + spread)
	if out < 0 {
		return 0
	}
	return out
}

// Logged returns an OnRetry hook that records each retry with its delay.
func Logged(op string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("retrying after transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
}
