package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs an HTTP exchange with the metadata API
func LogRequest(method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration":    duration,
	}

	switch {
	case statusCode >= 500 || statusCode == 0:
		GetLogger().ErrorWithFields("HTTP request failed", fields)
	case statusCode >= 400:
		GetLogger().WarnWithFields("HTTP request rejected", fields)
	default:
		GetLogger().DebugWithFields("HTTP request completed", fields)
	}
}

// LogUnit logs the outcome of one work unit
func LogUnit(targetID, rangeLabel, outcome string, records int, err error) {
	l := GetLogger().WithFields(map[string]interface{}{
		"target":  targetID,
		"range":   rangeLabel,
		"outcome": outcome,
		"records": records,
	})

	if err != nil {
		l.WithError(err).Warn("Work unit failed")
		return
	}
	l.Debug("Work unit completed")
}

// LogThrottle logs an explicit rate-exceeded answer and the resulting freeze
func LogThrottle(source string, freeze time.Duration) {
	GetLogger().WithFields(map[string]interface{}{
		"source": source,
		"freeze": freeze,
		"action": "rate_limited",
	}).Warn("Upstream throttled, freezing limiter")
}

// LogTransition logs a recovery state change on l
func LogTransition(l Logger, targetID, from, to string, attempt int) {
	l.WithFields(map[string]interface{}{
		"target":  targetID,
		"from":    from,
		"to":      to,
		"attempt": attempt,
	}).Info("Recovery state changed")
}

// LogStrategy logs the fetch strategy chosen for a target
func LogStrategy(targetID, strategy string, total, remaining int) {
	GetLogger().WithFields(map[string]interface{}{
		"target":    targetID,
		"strategy":  strategy,
		"total":     total,
		"remaining": remaining,
	}).Info("Strategy selected")
}

// LogPassSummary logs the result of one pass over the targets
func LogPassSummary(pass, succeeded, retryable, failed int) {
	GetLogger().WithFields(map[string]interface{}{
		"pass":      pass,
		"succeeded": succeeded,
		"retryable": retryable,
		"failed":    failed,
	}).Info("Pass finished")
}

// LogComponentStart logs when a component starts
func LogComponentStart(component string, config map[string]interface{}) {
	l := GetLogger().WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(component string, reason string) {
	GetLogger().WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
