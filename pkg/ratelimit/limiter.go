package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long a waiter sleeps before re-checking
const DefaultPollInterval = 500 * time.Millisecond

// ErrExceedsCapacity is returned when a caller asks for more tokens than the bucket holds
var ErrExceedsCapacity = errors.New("ratelimit: requested amount exceeds bucket capacity")

// ErrInvalidAmount is returned for a negative or NaN amount
var ErrInvalidAmount = errors.New("ratelimit: invalid amount")

// Limiter defines the interface for admission control
type Limiter interface {
	// TryConsume takes amount tokens if available, without blocking
	TryConsume(amount float64) bool
	// WaitConsume blocks until amount tokens have been taken or ctx ends
	WaitConsume(ctx context.Context, amount float64) error
	// Freeze forces zero availability for the given duration
	Freeze(d time.Duration)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// State is a point-in-time view of the bucket
type State struct {
	Capacity     float64
	Tokens       float64
	RecoveryRate float64
	LastRefill   time.Time
}

// TokenBucket implements a token bucket with continuous refill
type TokenBucket struct {
	capacity     float64   // Maximum number of tokens
	tokens       float64   // Current number of tokens
	recoveryRate float64   // Tokens recovered per second
	lastRefill   time.Time // May lie in the future while frozen
	pollInterval time.Duration
	clock        Clock

	mu      sync.Mutex
	release chan struct{} // closed and replaced whenever waiters should re-check
}

// Option configures a TokenBucket
type Option func(*TokenBucket)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(tb *TokenBucket) {
		tb.clock = clock
	}
}

// WithPollInterval sets the fallback re-check interval for waiters
func WithPollInterval(d time.Duration) Option {
	return func(tb *TokenBucket) {
		if d > 0 {
			tb.pollInterval = d
		}
	}
}

// NewTokenBucket creates a full bucket with the given capacity and recovery rate (tokens/second)
func NewTokenBucket(capacity, recoveryRate float64, opts ...Option) *TokenBucket {
	tb := &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		recoveryRate: recoveryRate,
		pollInterval: DefaultPollInterval,
		clock:        systemClock{},
		release:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(tb)
	}
	tb.lastRefill = tb.clock.Now()
	return tb
}

// TryConsume takes amount tokens if they are available
func (tb *TokenBucket) TryConsume(amount float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.take(amount)
}

// WaitConsume blocks until amount tokens are taken. It only fails when ctx
// ends or the amount can never be satisfied.
func (tb *TokenBucket) WaitConsume(ctx context.Context, amount float64) error {
	if amount < 0 || math.IsNaN(amount) {
		return ErrInvalidAmount
	}
	if amount > tb.capacity {
		return ErrExceedsCapacity
	}

	for {
		tb.mu.Lock()
		tb.refill()
		if tb.take(amount) {
			tb.mu.Unlock()
			return nil
		}
		wait := tb.timeUntil(amount)
		release := tb.release
		tb.mu.Unlock()

		if wait > tb.pollInterval {
			wait = tb.pollInterval
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-release:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Freeze zeroes the bucket and suspends refill until d has elapsed
func (tb *TokenBucket) Freeze(d time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = 0
	until := tb.clock.Now().Add(d)
	if until.After(tb.lastRefill) {
		tb.lastRefill = until
	}
}

// Reset refills the bucket to capacity and wakes all waiters
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.clock.Now()
	tb.broadcast()
}

// State returns the current bucket state after applying refill
func (tb *TokenBucket) State() State {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return State{
		Capacity:     tb.capacity,
		Tokens:       tb.tokens,
		RecoveryRate: tb.recoveryRate,
		LastRefill:   tb.lastRefill,
	}
}

// refill adds tokens for the time elapsed since the last refill. Caller holds mu.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	if !now.After(tb.lastRefill) {
		return
	}

	elapsed := now.Sub(tb.lastRefill).Seconds()
	prev := tb.tokens
	tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.recoveryRate)
	tb.lastRefill = now

	if math.Floor(tb.tokens) > math.Floor(prev) {
		tb.broadcast()
	}
}

// take subtracts amount if enough tokens exist. Caller holds mu.
func (tb *TokenBucket) take(amount float64) bool {
	if amount < 0 {
		return false
	}
	if tb.tokens >= amount {
		tb.tokens -= amount
		return true
	}
	return false
}

// timeUntil estimates how long until amount tokens are available. Caller holds mu.
func (tb *TokenBucket) timeUntil(amount float64) time.Duration {
	var wait time.Duration
	if now := tb.clock.Now(); tb.lastRefill.After(now) {
		wait = tb.lastRefill.Sub(now)
	}
	if tb.recoveryRate <= 0 {
		return tb.pollInterval
	}
	deficit := amount - tb.tokens
	return wait + time.Duration(deficit/tb.recoveryRate*float64(time.Second))
}

// broadcast wakes every parked waiter. Caller holds mu.
func (tb *TokenBucket) broadcast() {
	close(tb.release)
	tb.release = make(chan struct{})
}
