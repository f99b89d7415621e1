// Package ratelimit provides admission control for requests sent to the marketplace.
//
// TokenBucket holds up to Capacity tokens and recovers RecoveryRate tokens per
// second, continuously. One bucket is shared by every caller that talks to the
// same upstream, whether that is the single-threaded session loop or a pool of
// lookup workers.
//
// Operations:
//   - TryConsume(n) bool - take n tokens if available, never blocks
//   - WaitConsume(ctx, n) error - block until n tokens are taken
//   - Freeze(d) - zero the bucket and suspend recovery for d, used after an
//     explicit "rate exceeded" answer from upstream
//
// Waiters park on a broadcast channel that is released whenever a refill
// crosses a whole-token boundary, with a bounded poll as a fallback.
//
// Usage:
//
//	// One request every 2.5 seconds, no bursts
//	limiter := ratelimit.NewTokenBucket(1, 0.4)
//
//	if err := limiter.WaitConsume(ctx, 1); err != nil {
//	    return err
//	}
//	// Proceed with request
//
//	// Upstream said "Too Many Requests"
//	limiter.Freeze(5 * time.Second)
package ratelimit
