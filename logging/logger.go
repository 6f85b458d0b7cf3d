package logging

import (
	"context"
)

// Logger is the logging interface used throughout usbdisk.
type Logger interface {
	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns a logger named "<parent>.<subname>" that starts at the parent's level and
	// shares its appenders.
	Sublogger(subname string) Logger
	// WithFields returns a logger that adds the given key/value pairs to every entry.
	WithFields(keysAndValues ...interface{}) Logger
	AddAppender(appender Appender)
	Sync() error

	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Errorw(msg string, keysAndValues ...interface{})

	// CDebugw also logs when debug mode was enabled on the context.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})
}

type debugModeKey struct{}

// EnableDebugMode returns a context for which CDebugw always logs.
func EnableDebugMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugModeKey{}, true)
}

// IsDebugMode reports whether debug mode was enabled on the context.
func IsDebugMode(ctx context.Context) bool {
	enabled, _ := ctx.Value(debugModeKey{}).(bool)
	return enabled
}
