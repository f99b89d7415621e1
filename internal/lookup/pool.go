package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/ledger"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/ratelimit"
	"marketcrawl/pkg/retry"
)

// Job is one lookup key, a good id or a search term
type Job struct {
	Key string
}

// Result represents the result of a job
type Result struct {
	Job      Job
	Success  bool
	Skipped  bool
	Records  int
	Error    error
	Duration time.Duration
}

// Processor performs the API work for one key
type Processor interface {
	// Kind prefixes ledger entries so different lookups can share one ledger
	Kind() string
	Process(ctx context.Context, key string) (int, error)
}

// Tracker remembers finished keys across runs
type Tracker interface {
	IsComplete(unit models.WorkUnit) bool
	Record(unit models.WorkUnit, outcome string) error
}

// Config holds the pool settings
type Config struct {
	Workers        int
	MaxRetries     int
	FreezeDuration time.Duration
	Backoff        retry.BackoffStrategy
}

// DefaultConfig returns the settings used against the public API
func DefaultConfig() Config {
	backoff := retry.NewErrorTypeBackoff()
	// the frozen limiter already paces a throttled retry
	backoff.ThrottleBackoff = &retry.ConstantBackoff{}

	return Config{
		Workers:        5,
		MaxRetries:     3,
		FreezeDuration: 5 * time.Second,
		Backoff:        backoff,
	}
}

// WorkerPool runs lookups on a fixed number of workers sharing one limiter
type WorkerPool struct {
	cfg         Config
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	parent      context.Context
	ctx         context.Context
	cancel      context.CancelFunc
	processor   Processor
	tracker     Tracker
	rateLimiter ratelimit.Limiter
	errorLog    logger.Logger
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewWorkerPool creates a new pool. errorLog receives one entry per key that
// failed with an undecodable answer and may be nil.
func NewWorkerPool(
	ctx context.Context,
	cfg Config,
	processor Processor,
	tracker Tracker,
	rateLimiter ratelimit.Limiter,
	errorLog logger.Logger,
	log logger.Logger,
) *WorkerPool {
	poolCtx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}
	if errorLog == nil {
		errorLog = log
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultConfig().Backoff
	}

	return &WorkerPool{
		cfg:         cfg,
		jobQueue:    make(chan Job, cfg.Workers*2),
		resultQueue: make(chan Result, cfg.Workers),
		parent:      ctx,
		ctx:         poolCtx,
		cancel:      cancel,
		processor:   processor,
		tracker:     tracker,
		rateLimiter: rateLimiter,
		errorLog:    errorLog,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting lookup pool", map[string]interface{}{
		"kind":    wp.processor.Kind(),
		"workers": wp.cfg.Workers,
	})

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.jobQueue)
		wp.wg.Wait()
		close(wp.resultQueue)
		wp.cancel()
		wp.logger.Info("Lookup pool stopped")
	})
}

// Submit adds a job to the queue
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("lookup pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// GetQueueSize returns the current number of queued jobs
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		// drain without work once canceled
		if wp.ctx.Err() != nil {
			wp.send(Result{Job: job, Error: wp.ctx.Err()})
			continue
		}
		wp.send(wp.processJob(job, id))
	}
}

func (wp *WorkerPool) send(result Result) {
	wp.resultQueue <- result
}

func (wp *WorkerPool) unitFor(key string) models.WorkUnit {
	return models.FullUnit(wp.processor.Kind() + ":" + key)
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}
	unit := wp.unitFor(job.Key)

	if wp.tracker != nil && wp.tracker.IsComplete(unit) {
		result.Success = true
		result.Skipped = true
		return result
	}

	records, err := retry.DoWithResult(func() (int, error) {
		return wp.processor.Process(wp.ctx, job.Key)
	}, &retry.Config{
		MaxAttempts: wp.cfg.MaxRetries,
		Backoff:     wp.cfg.Backoff,
		Context:     wp.ctx,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if errs.Is(err, errs.ErrorTypeUpstreamThrottled) {
				wp.rateLimiter.Freeze(wp.cfg.FreezeDuration)
				logger.LogThrottle(wp.processor.Kind(), wp.cfg.FreezeDuration)
			}
		},
	})
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err
		wp.fail(unit, job, workerID, err)
		return result
	}

	result.Success = true
	result.Records = records
	if wp.tracker != nil {
		if err := wp.tracker.Record(unit, ledger.OutcomeSuccess); err != nil {
			result.Success = false
			result.Error = fmt.Errorf("failed to record %s: %w", job.Key, err)
			return result
		}
	}

	logger.LogUnit(unit.TargetID, unit.RangeLabel(), ledger.OutcomeSuccess, records, nil)
	return result
}

func (wp *WorkerPool) fail(unit models.WorkUnit, job Job, workerID int, err error) {
	if errs.Is(err, errs.ErrorTypeMalformedResponse) {
		wp.errorLog.WithError(err).WithFields(map[string]interface{}{
			"kind": wp.processor.Kind(),
			"key":  job.Key,
		}).Error("Undecodable lookup answer")
	}

	wp.logger.ErrorWithFields("Lookup failed", map[string]interface{}{
		"worker_id": workerID,
		"kind":      wp.processor.Kind(),
		"key":       job.Key,
		"error":     err.Error(),
	})

	if wp.tracker != nil && wp.ctx.Err() == nil {
		if rerr := wp.tracker.Record(unit, ledger.OutcomeFailure); rerr != nil {
			wp.logger.WithError(rerr).Error("Failed to record lookup failure")
		}
	}
}

// Stats summarizes a Run
type Stats struct {
	Submitted int
	Succeeded int
	Skipped   int
	Failed    int
	Records   int
}

// Run starts the pool, submits every key, waits for all results and stops.
// onResult, when set, is called for each result from a single goroutine.
func (wp *WorkerPool) Run(keys []string, onResult func(Result)) (Stats, error) {
	var stats Stats
	wp.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for result := range wp.resultQueue {
			switch {
			case result.Skipped:
				stats.Skipped++
			case result.Success:
				stats.Succeeded++
				stats.Records += result.Records
			default:
				stats.Failed++
			}
			if onResult != nil {
				onResult(result)
			}
		}
	}()

	var submitErr error
	for _, key := range keys {
		if err := wp.Submit(Job{Key: key}); err != nil {
			submitErr = err
			break
		}
		stats.Submitted++
	}

	wp.Stop()
	<-done

	if submitErr == nil {
		submitErr = wp.parent.Err()
	}
	return stats, submitErr
}
