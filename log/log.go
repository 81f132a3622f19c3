// Package log implements support for structured logging.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// defaultCallerUnwind is the number of stack frames to unwind to find the
// logging call site: go-kit's log.DefaultCaller plus one for this package's
// leveling wrapper.
const defaultCallerUnwind = 4

// Logger is a structured logger.
type Logger struct {
	// raw is the format-bound output logger without any prefixes; it is
	// retained so the caller annotation can be rebuilt with a different
	// stack unwind depth.
	raw    log.Logger
	logger log.Logger
	level  Level
	module string
}

// NewDefaultLogger initializes a new logger instance with default settings.
// For usage outside tests, prefer RootLogger() from package `cmd/common`.
func NewDefaultLogger(module string) *Logger {
	logger, err := NewLogger(module, os.Stdout, FmtJSON, LevelInfo)
	if err != nil {
		// Shouldn't happen as NewLogger can only fail if an invalid format is provided.
		panic(err)
	}
	return logger
}

// NewLogger initializes a new logger instance.
func NewLogger(module string, w io.Writer, format Format, lvl Level) (*Logger, error) {
	var raw log.Logger
	switch format {
	case FmtLogfmt:
		raw = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FmtJSON:
		raw = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("log: unsupported log format: %v", format)
	}

	return &Logger{
		raw:    raw,
		logger: annotate(raw, defaultCallerUnwind),
		level:  lvl,
		module: module,
	}, nil
}

// annotate attaches the timestamp and caller prefixes to a raw logger.
func annotate(raw log.Logger, callerUnwind int) log.Logger {
	return log.WithPrefix(raw,
		"ts", log.DefaultTimestampUTC,
		"caller", log.Caller(callerUnwind),
	)
}

// Debug logs the message and key value pairs at the Debug log level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Debug(l.logger).Log(keyvals...)
}

// Info logs the message and key value pairs at the Info log level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Info(l.logger).Log(keyvals...)
}

// Warn logs the message and key value pairs at the Warn log level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l.level > LevelWarn {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Warn(l.logger).Log(keyvals...)
}

// Error logs the message and key value pairs at the Error log level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l.level > LevelError {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Error(l.logger).Log(keyvals...)
}

// With returns a clone of the logger with the provided key/value pairs
// added as context for all subsequent logs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		raw:    l.raw,
		logger: log.With(l.logger, keyvals...),
		level:  l.level,
		module: l.module,
	}
}

// WithModule returns a clone of the logger with the provided module
// added as context for all subsequent logs.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		raw:    l.raw,
		logger: l.logger,
		level:  l.level,
		module: module,
	}
}

// WithCallerUnwind returns a clone of the logger that unwinds the given
// number of stack frames when annotating the call site. Useful when logs
// are routed through an extra adapter layer, e.g. WriterIntoLogger.
// Any key/value context added with With is not carried over.
func (l *Logger) WithCallerUnwind(callerUnwind int) *Logger {
	return &Logger{
		raw:    l.raw,
		logger: annotate(l.raw, callerUnwind),
		level:  l.level,
		module: l.module,
	}
}

// Level is the logging level.
func (l *Logger) Level() Level {
	return l.level
}
