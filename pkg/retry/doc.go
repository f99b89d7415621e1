// Package retry provides backoff strategies and a retry loop for transient
// failures talking to the metadata API and for spacing session reset attempts.
//
// Only failures classified as transient or throttled are retried by default.
// ErrorTypeBackoff chooses the delay from the failure class, so a throttled
// answer waits a fixed interval while network errors back off exponentially.
//
//	doc, err := retry.DoWithResult(func() (json.RawMessage, error) {
//		return client.FetchGood(ctx, id)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.NewErrorTypeBackoff(),
//		Context:     ctx,
//		Logger:      logger.GetLogger(),
//	})
//
// Wait is a context-aware sleep used by other packages between attempts.
package retry
