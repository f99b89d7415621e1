// Package recovery drives the reset of a compromised browsing session.
//
// The policy is a small state machine:
//
//	Healthy -> Suspect -> Resetting -> Healthy
//	                      Resetting -> Aborted
//
// A reset clears session-side cached state, reloads the root view and checks
// that the session fingerprint changed to a non-empty value. The policy gives
// up after a fixed number of consecutive failed attempts, and immediately
// when the session shows a login prompt.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/retry"
)

// State is a recovery state
type State int

const (
	Healthy State = iota
	Suspect
	Resetting
	Aborted
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Suspect:
		return "Suspect"
	case Resetting:
		return "Resetting"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Resetter is the part of a browsing session the policy drives
type Resetter interface {
	LoginRequired(ctx context.Context) (bool, error)
	CurrentFingerprint(ctx context.Context) (string, error)
	ClearState(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Journal receives one line per state transition
type Journal interface {
	Record(unit models.WorkUnit, outcome string) error
}

// Config holds the reset budget and pacing
type Config struct {
	MaxAttempts int
	// Backoff spaces consecutive failed attempts
	Backoff retry.BackoffStrategy
	// SettleDelay is waited after a verified reset
	SettleDelay time.Duration
}

// DefaultConfig returns the observed marketplace settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		SettleDelay: 5 * time.Second,
	}
}

// Policy is the session recovery state machine. It is owned by the
// single session-driving loop but guards its state for observers.
type Policy struct {
	cfg      Config
	journal  Journal
	logger   logger.Logger
	wait     func(ctx context.Context, d time.Duration) error
	mu       sync.Mutex
	state    State
	attempts int
	abortErr error
}

// NewPolicy creates a policy in the Healthy state. journal may be nil.
func NewPolicy(cfg Config, journal Journal, log logger.Logger) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &retry.ConstantBackoff{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Policy{
		cfg:     cfg,
		journal: journal,
		logger:  log,
		wait:    retry.Wait,
		state:   Healthy,
	}
}

// State returns the current state
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts returns the number of reset attempts made by the last Recover
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// ReportFailure marks the session suspect after a transport failure on unit
func (p *Policy) ReportFailure(unit models.WorkUnit, cause error) {
	p.logger.WithFields(map[string]interface{}{
		"target": unit.TargetID,
		"range":  unit.RangeLabel(),
	}).WithError(cause).Warn("Session failure reported")

	if p.State() == Healthy {
		p.transition(unit, Suspect)
	}
}

// Opener starts a session for a reset attempt
type Opener func(ctx context.Context) (Resetter, error)

// Recover resets r until the fingerprint is verified to have rotated. It
// returns a SessionInvalid error when a login prompt is seen and a
// RetryBudgetExhausted error once MaxAttempts consecutive attempts failed.
// Calling Recover while Healthy resets a fresh session before first use.
func (p *Policy) Recover(ctx context.Context, r Resetter, unit models.WorkUnit) error {
	return p.RecoverWith(ctx, func(context.Context) (Resetter, error) { return r, nil }, unit)
}

// RecoverWith is Recover for a session that still has to be opened. A failed
// open is one failed attempt and the next attempt opens again.
func (p *Policy) RecoverWith(ctx context.Context, open Opener, unit models.WorkUnit) error {
	p.mu.Lock()
	if p.state == Aborted {
		err := p.abortErr
		p.mu.Unlock()
		return err
	}
	p.attempts = 0
	p.mu.Unlock()

	p.transition(unit, Resetting)

	var r Resetter
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		p.mu.Lock()
		p.attempts = attempt
		p.mu.Unlock()

		var ok bool
		var err error
		if r == nil {
			r, err = open(ctx)
			if err != nil {
				r = nil
				err = fmt.Errorf("open session: %w", err)
			}
		}
		if r != nil {
			ok, err = p.attempt(ctx, r)
		}
		if ok {
			p.transition(unit, Healthy)
			p.logger.InfoWithFields("Session reset verified", map[string]interface{}{
				"target":  unit.TargetID,
				"attempt": attempt,
			})
			return p.wait(ctx, p.cfg.SettleDelay)
		}

		if errs.Is(err, errs.ErrorTypeSessionInvalid) {
			return p.abort(unit, err)
		}
		if ctx.Err() != nil {
			p.transition(unit, Suspect)
			return ctx.Err()
		}

		p.logger.WithFields(map[string]interface{}{
			"target":  unit.TargetID,
			"attempt": attempt,
			"max":     p.cfg.MaxAttempts,
		}).WithError(err).Warn("Session reset attempt failed")

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.wait(ctx, p.cfg.Backoff.NextDelay(attempt)); err != nil {
			p.transition(unit, Suspect)
			return err
		}
	}

	return p.abort(unit, errs.New(errs.ErrorTypeRetryBudgetExhausted,
		fmt.Sprintf("session reset failed %d consecutive times", p.cfg.MaxAttempts)))
}

// attempt performs one reset. A nil error with ok=false means the
// fingerprint did not rotate.
func (p *Policy) attempt(ctx context.Context, r Resetter) (bool, error) {
	loginRequired, err := r.LoginRequired(ctx)
	if err != nil {
		return false, fmt.Errorf("login check: %w", err)
	}
	if loginRequired {
		return false, errs.New(errs.ErrorTypeSessionInvalid, "login required, sign in with 'marketcrawl login'")
	}

	before, err := r.CurrentFingerprint(ctx)
	if err != nil {
		return false, fmt.Errorf("read fingerprint: %w", err)
	}
	if err := r.ClearState(ctx); err != nil {
		return false, fmt.Errorf("clear state: %w", err)
	}
	if err := r.Reload(ctx); err != nil {
		return false, fmt.Errorf("reload: %w", err)
	}
	after, err := r.CurrentFingerprint(ctx)
	if err != nil {
		return false, fmt.Errorf("read fingerprint: %w", err)
	}

	if after == "" || after == before {
		return false, errs.New(errs.ErrorTypeTransientNetwork, "fingerprint did not rotate")
	}
	return true, nil
}

// Abort ends recovery for good, for a login prompt met outside a reset.
// Later Recover calls return cause.
func (p *Policy) Abort(unit models.WorkUnit, cause error) error {
	p.mu.Lock()
	if p.state == Aborted {
		err := p.abortErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()
	return p.abort(unit, cause)
}

func (p *Policy) abort(unit models.WorkUnit, err error) error {
	p.mu.Lock()
	p.abortErr = err
	p.mu.Unlock()

	p.transition(unit, Aborted)
	return err
}

func (p *Policy) transition(unit models.WorkUnit, to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	attempts := p.attempts
	p.mu.Unlock()

	if from == to {
		return
	}

	logger.LogTransition(p.logger, unit.TargetID, from.String(), to.String(), attempts)
	if p.journal == nil {
		return
	}
	if err := p.journal.Record(unit, to.String()); err != nil {
		p.logger.WithError(err).Error("Failed to journal recovery transition")
	}
}
