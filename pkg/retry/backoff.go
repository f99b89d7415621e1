package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "marketcrawl/pkg/errors"
)

// BackoffStrategy maps an attempt number (1-based) to the delay before the next one
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
	Reset()
}

// ExponentialBackoff grows BaseDelay by Multiplier per attempt up to MaxDelay,
// then spreads the result by ±JitterFactor
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return jitter(delay, eb.JitterFactor)
}

// Reset is a no-op, the delay depends only on the attempt number
func (eb *ExponentialBackoff) Reset() {}

// ConstantBackoff waits Delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

func (cb *ConstantBackoff) Reset() {}

func jitter(delay, factor float64) time.Duration {
	if factor > 0 {
		spread := delay * factor
		delay += rand.Float64()*2*spread - spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Wait sleeps for delay or until ctx is done
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorAware is implemented by strategies whose delay depends on the failure
type ErrorAware interface {
	DelayFor(err error, attempt int) time.Duration
}

// ErrorTypeBackoff picks a backoff strategy from the failure class
type ErrorTypeBackoff struct {
	// TransientBackoff for network errors and 5xx answers
	TransientBackoff BackoffStrategy
	// ThrottleBackoff for explicit rate-exceeded answers
	ThrottleBackoff BackoffStrategy
	// DefaultBackoff for anything else that is retried
	DefaultBackoff BackoffStrategy
}

// NewErrorTypeBackoff waits 5s after a throttle answer and backs off
// exponentially from 1s otherwise
func NewErrorTypeBackoff() *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		TransientBackoff: &ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.2,
		},
		ThrottleBackoff: &ConstantBackoff{Delay: 5 * time.Second},
		DefaultBackoff: &ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
	}
}

// ForType returns the strategy used for errorType
func (etb *ErrorTypeBackoff) ForType(errorType errs.ErrorType) BackoffStrategy {
	switch errorType {
	case errs.ErrorTypeTransientNetwork:
		return etb.TransientBackoff
	case errs.ErrorTypeUpstreamThrottled:
		return etb.ThrottleBackoff
	default:
		return etb.DefaultBackoff
	}
}

// DelayFor returns the delay for attempt given the failure err
func (etb *ErrorTypeBackoff) DelayFor(err error, attempt int) time.Duration {
	return etb.ForType(errs.TypeOf(err)).NextDelay(attempt)
}

// NextDelay uses the default strategy
func (etb *ErrorTypeBackoff) NextDelay(attempt int) time.Duration {
	return etb.DefaultBackoff.NextDelay(attempt)
}

func (etb *ErrorTypeBackoff) Reset() {
	etb.TransientBackoff.Reset()
	etb.ThrottleBackoff.Reset()
	etb.DefaultBackoff.Reset()
}
