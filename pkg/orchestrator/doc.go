// Package orchestrator drives the rate-limited, resumable crawl of a
// marketplace listing.
//
// The Orchestrator owns one browsing session and walks the targets in passes.
// For each target it:
//   - asks the ledger which work units remain and skips finished targets
//   - probes the listing once and lets the strategy selector choose between
//     paging through the whole listing and one filtered request per range
//   - gates every request on the shared token bucket
//   - writes records to the sink before recording the unit's Success
//
// Failure handling:
//
// A transient network failure abandons the target, closes the session and
// opens a fresh one through the recovery policy. An explicit throttle answer
// freezes the limiter and leaves the target for the next pass. A malformed
// response is logged and the unit stays incomplete. A login prompt or an
// exhausted reset budget ends the run.
//
// Usage:
//
//	orch, err := orchestrator.New(orchestrator.Deps{
//	    Factory: factory,
//	    Limiter: ratelimit.NewTokenBucket(1, 0.4),
//	    Ledger:  l,
//	    Policy:  recovery.NewPolicy(recovery.DefaultConfig(), l, log),
//	    Sink:    sink,
//	}, orchestrator.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	summary, err := orch.Run(ctx, targets)
package orchestrator
