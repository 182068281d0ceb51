// Package log provides the structured logger used across the daq-core
// daemon, CLI, and plugins. It wraps logrus behind a small interface so
// call sites never import logrus directly.
package log

import (
	"sync"
)

// Logger is the structured logging surface every component depends on.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger = newFallbackLogger()
)

// GetLogger returns the process-wide logger. Safe before Init (falls
// back to a plain stdout logger at info level) and safe to call from
// any goroutine after Init has run.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init (re)configures the global logger. Unlike the daemon's cold-reload
// settings, logging is hot-reloadable: Init may be called again after a
// SIGHUP without restarting the process.
func Init(cfg *LoggerConfig) error {
	l, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}
