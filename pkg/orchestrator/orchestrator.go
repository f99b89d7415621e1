package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketcrawl/pkg/browser"
	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/ledger"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/ratelimit"
	"marketcrawl/pkg/recovery"
	"marketcrawl/pkg/retry"
	"marketcrawl/pkg/strategy"
)

// ErrPassBudgetExhausted is returned when MaxPasses passes ran and the last
// one still had retryable failures
var ErrPassBudgetExhausted = errors.New("orchestrator: pass budget exhausted")

// sessionUnit tags recovery transitions that do not belong to a target
var sessionUnit = models.FullUnit("session")

// RecordSink receives the extracted records
type RecordSink interface {
	Write(records []json.RawMessage) (int, error)
}

// Reporter receives progress events from the Run goroutine
type Reporter interface {
	TargetStarted(target models.Target, decision strategy.Decision)
	UnitFinished(unit models.WorkUnit, records int, err error)
	Throttled(unit models.WorkUnit, freeze time.Duration)
	Recovering(unit models.WorkUnit, cause error)
	PassFinished(pass, succeeded, retryable, failed int)
}

// Config holds the run pacing
type Config struct {
	// FreezeDuration is applied to the limiter on an explicit throttle answer
	FreezeDuration time.Duration
	// RecoveryDelay is waited between closing a failed session and opening the next
	RecoveryDelay time.Duration
	// ResetOnStart resets the first session before any request
	ResetOnStart bool
	// MaxPasses bounds the number of passes, 0 means unlimited
	MaxPasses int
}

// DefaultConfig returns the observed marketplace settings
func DefaultConfig() Config {
	return Config{
		FreezeDuration: 5 * time.Second,
		RecoveryDelay:  3 * time.Second,
		ResetOnStart:   true,
	}
}

// Deps are the collaborators of a run. Selector, Partitioner, Reporter and
// Logger are optional.
type Deps struct {
	Factory     browser.Factory
	Limiter     ratelimit.Limiter
	Ledger      *ledger.Ledger
	Policy      *recovery.Policy
	Sink        RecordSink
	Selector    *strategy.Selector
	Partitioner *strategy.Partitioner
	Reporter    Reporter
	Logger      logger.Logger
}

// Summary describes a finished run
type Summary struct {
	Passes         int
	Recoveries     int
	UnitsCompleted int
	RecordsWritten int
	Malformed      int
	Throttled      int
	Skipped        int
}

// Orchestrator drives one browsing session over a list of targets until
// every unit is recorded in the ledger
type Orchestrator struct {
	factory     browser.Factory
	limiter     ratelimit.Limiter
	ledger      *ledger.Ledger
	policy      *recovery.Policy
	sink        RecordSink
	selector    *strategy.Selector
	partitioner *strategy.Partitioner
	reporter    Reporter
	logger      logger.Logger
	cfg         Config
	wait        func(ctx context.Context, d time.Duration) error

	session browser.Session
	summary Summary
}

// New creates an orchestrator
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Factory == nil:
		return nil, fmt.Errorf("orchestrator: session factory is required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("orchestrator: limiter is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("orchestrator: ledger is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("orchestrator: recovery policy is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("orchestrator: sink is required")
	}

	if deps.Selector == nil {
		deps.Selector = strategy.NewSelector()
	}
	if deps.Partitioner == nil {
		deps.Partitioner = strategy.NewPartitioner()
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}

	return &Orchestrator{
		factory:     deps.Factory,
		limiter:     deps.Limiter,
		ledger:      deps.Ledger,
		policy:      deps.Policy,
		sink:        deps.Sink,
		selector:    deps.Selector,
		partitioner: deps.Partitioner,
		reporter:    deps.Reporter,
		logger:      deps.Logger,
		cfg:         cfg,
		wait:        retry.Wait,
	}, nil
}

// Run processes targets in passes until a pass finishes without transient or
// throttle failures. It returns early on a fatal error, a canceled context or
// an exhausted pass budget.
func (o *Orchestrator) Run(ctx context.Context, targets []models.Target) (Summary, error) {
	o.summary = Summary{}
	defer o.closeSession()

	logger.LogComponentStart("orchestrator", map[string]interface{}{
		"targets":    len(targets),
		"max_passes": o.cfg.MaxPasses,
		"ledger":     o.ledger.Path(),
	})

	if err := o.openSession(ctx, o.cfg.ResetOnStart); err != nil {
		return o.summary, err
	}

	for pass := 1; ; pass++ {
		o.summary.Passes = pass

		retryable, err := o.runPass(ctx, pass, targets)
		if err != nil {
			logger.LogComponentStop("orchestrator", err.Error())
			return o.summary, err
		}
		if retryable == 0 {
			o.logger.InfoWithFields("Completed all targets", map[string]interface{}{
				"passes":     o.summary.Passes,
				"recoveries": o.summary.Recoveries,
				"records":    o.summary.RecordsWritten,
			})
			logger.LogComponentStop("orchestrator", "completed")
			return o.summary, nil
		}
		if o.cfg.MaxPasses > 0 && pass >= o.cfg.MaxPasses {
			logger.LogComponentStop("orchestrator", "pass budget exhausted")
			return o.summary, fmt.Errorf("%w after %d passes, %d targets still pending",
				ErrPassBudgetExhausted, pass, retryable)
		}
	}
}

// runPass makes one pass over every target and returns the number of
// targets that hit a retryable failure
func (o *Orchestrator) runPass(ctx context.Context, pass int, targets []models.Target) (int, error) {
	var succeeded, retryable, failed int

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return retryable, err
		}

		unit, err := o.processTarget(ctx, target)
		switch errs.TypeOf(err) {
		case "":
			succeeded++

		case errs.ErrorTypeMalformedResponse:
			failed++
			o.recordMalformed(unit, err)

		case errs.ErrorTypeUpstreamThrottled:
			retryable++
			o.summary.Throttled++
			o.recordFailure(unit, err)
			o.limiter.Freeze(o.cfg.FreezeDuration)
			logger.LogThrottle(target.ID, o.cfg.FreezeDuration)
			o.reporter.Throttled(unit, o.cfg.FreezeDuration)

		case errs.ErrorTypeTransientNetwork:
			retryable++
			o.recordFailure(unit, err)
			if err := o.recover(ctx, unit, err); err != nil {
				return retryable, err
			}

		case errs.ErrorTypeSessionInvalid:
			o.recordFailure(unit, err)
			return retryable, o.policy.Abort(unit, fmt.Errorf("target %s: %w", target.ID, err))

		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return retryable, ctxErr
			}
			o.recordFailure(unit, err)
			return retryable, fmt.Errorf("target %s: %w", target.ID, err)
		}
	}

	logger.LogPassSummary(pass, succeeded, retryable, failed)
	o.reporter.PassFinished(pass, succeeded, retryable, failed)
	return retryable, nil
}

// processTarget runs the per-target algorithm. The returned unit is the one
// in flight when an error occurred.
func (o *Orchestrator) processTarget(ctx context.Context, target models.Target) (models.WorkUnit, error) {
	full := models.FullUnit(target.ID)
	units := o.partitioner.Units(target)

	if o.ledger.IsComplete(full) {
		o.skip(target, "already paginated")
		return full, nil
	}
	remaining := o.ledger.Remaining(units)
	if len(units) > 0 && len(remaining) == 0 {
		o.skip(target, "all ranges complete")
		return full, nil
	}

	if err := o.limiter.WaitConsume(ctx, 1); err != nil {
		return full, err
	}
	resp, err := o.session.Navigate(ctx, o.factory.ListingURL(target.ID))
	if err != nil {
		return full, err
	}
	listing, err := readListing(resp)
	if err != nil {
		return full, err
	}

	probe := strategy.Probe{
		TotalCount: listing.TotalCount,
		// a target with no partition units can only be paginated
		PartitionAvailable: len(units) > 0 && o.session.PartitionAvailable(ctx),
	}
	decision := o.selector.Choose(target, probe, len(remaining))
	logger.LogStrategy(target.ID, decision.Kind.String(), listing.TotalCount, len(remaining))
	o.reporter.TargetStarted(target, decision)

	if decision.Kind == strategy.Partition {
		return o.partition(ctx, remaining)
	}
	return full, o.paginate(ctx, full, listing, decision.Trivial)
}

// paginate walks every page after the probe and writes the records as one
// batch. A failure part way drops the collected pages.
func (o *Orchestrator) paginate(ctx context.Context, full models.WorkUnit, first *browser.Listing, trivial bool) error {
	records := append([]json.RawMessage(nil), first.Records...)

	for page := 2; !trivial; page++ {
		if err := o.limiter.WaitConsume(ctx, 1); err != nil {
			return err
		}
		resp, err := o.session.AdvancePage(ctx)
		if errors.Is(err, browser.ErrExhausted) {
			break
		}
		if err != nil {
			return err
		}
		listing, err := readListing(resp)
		if err != nil {
			return err
		}
		records = append(records, listing.Records...)

		o.logger.DebugWithFields("Listing page captured", map[string]interface{}{
			"target":  full.TargetID,
			"page":    page,
			"records": len(listing.Records),
		})
	}

	return o.complete(full, records)
}

// partition issues one filtered request per remaining unit and keeps the
// first record of each answer
func (o *Orchestrator) partition(ctx context.Context, remaining []models.WorkUnit) (models.WorkUnit, error) {
	for _, unit := range remaining {
		if err := o.limiter.WaitConsume(ctx, 1); err != nil {
			return unit, err
		}
		resp, err := o.session.ApplyFilter(ctx, unit.RangeStart, unit.RangeEnd)
		if err != nil {
			return unit, err
		}

		listing, err := readListing(resp)
		if errs.Is(err, errs.ErrorTypeMalformedResponse) {
			o.recordMalformed(unit, err)
			continue
		}
		if err != nil {
			return unit, err
		}

		var best []json.RawMessage
		if len(listing.Records) > 0 {
			best = listing.Records[:1]
		}
		if err := o.complete(unit, best); err != nil {
			return unit, err
		}
	}

	return models.WorkUnit{}, nil
}

// complete writes the records and then the unit's Success line
func (o *Orchestrator) complete(unit models.WorkUnit, records []json.RawMessage) error {
	n, err := o.sink.Write(records)
	if err != nil {
		return fmt.Errorf("failed to write records for %s: %w", unit, err)
	}
	if err := o.ledger.Record(unit, ledger.OutcomeSuccess); err != nil {
		return fmt.Errorf("failed to record %s: %w", unit, err)
	}

	o.summary.UnitsCompleted++
	o.summary.RecordsWritten += n
	logger.LogUnit(unit.TargetID, unit.RangeLabel(), ledger.OutcomeSuccess, n, nil)
	o.reporter.UnitFinished(unit, n, nil)
	return nil
}

func (o *Orchestrator) recordMalformed(unit models.WorkUnit, err error) {
	o.summary.Malformed++
	o.recordFailure(unit, err)
}

// recordFailure writes an informational Failure line. It never blocks a retry.
func (o *Orchestrator) recordFailure(unit models.WorkUnit, cause error) {
	logger.LogUnit(unit.TargetID, unit.RangeLabel(), ledger.OutcomeFailure, 0, cause)
	o.reporter.UnitFinished(unit, 0, cause)
	if err := o.ledger.Record(unit, ledger.OutcomeFailure); err != nil {
		o.logger.WithError(err).Error("Failed to record unit failure")
	}
}

func (o *Orchestrator) skip(target models.Target, reason string) {
	o.summary.Skipped++
	o.logger.DebugWithFields("Skipping target", map[string]interface{}{
		"target": target.ID,
		"reason": reason,
	})
}

// recover replaces the session after a transport failure on unit
func (o *Orchestrator) recover(ctx context.Context, unit models.WorkUnit, cause error) error {
	o.summary.Recoveries++
	o.policy.ReportFailure(unit, cause)
	o.reporter.Recovering(unit, cause)

	o.closeSession()
	if err := o.wait(ctx, o.cfg.RecoveryDelay); err != nil {
		return err
	}

	return o.policy.RecoverWith(ctx, o.open, unit)
}

func (o *Orchestrator) openSession(ctx context.Context, reset bool) error {
	if reset {
		return o.policy.RecoverWith(ctx, o.open, sessionUnit)
	}
	if _, err := o.open(ctx); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

// open replaces the current session with a new one
func (o *Orchestrator) open(ctx context.Context) (recovery.Resetter, error) {
	o.closeSession()
	session, err := o.factory.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	o.session = session
	return session, nil
}

func (o *Orchestrator) closeSession() {
	if o.session == nil {
		return
	}
	if err := o.session.Close(); err != nil {
		o.logger.WithError(err).Warn("Failed to close session")
	}
	o.session = nil
}

// readListing classifies the status and decodes the envelope
func readListing(resp *browser.Response) (*browser.Listing, error) {
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return browser.ParseListing(resp)
}

type nopReporter struct{}

func (nopReporter) TargetStarted(models.Target, strategy.Decision) {}
func (nopReporter) UnitFinished(models.WorkUnit, int, error)       {}
func (nopReporter) Throttled(models.WorkUnit, time.Duration)       {}
func (nopReporter) Recovering(models.WorkUnit, error)              {}
func (nopReporter) PassFinished(int, int, int, int)                {}
