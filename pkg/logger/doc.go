// Package logger wraps zerolog with a small structured logging interface.
//
// The global logger is configured once from config.LoggingConfig and then
// used through package functions or child loggers:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	logger.WithField("target", "44071").Info("Strategy selected")
//
// Console output is colored and written to stderr. When a log file is
// configured, JSON lines are appended to it as well.
//
// Domain helpers such as LogUnit, LogThrottle and LogTransition keep field
// names consistent across the crawler. TestLogger captures messages for
// assertions in tests.
package logger
