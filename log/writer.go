package log

import (
	"io"
	"strings"
)

// WriterIntoLogger adapts a Logger into an io.Writer so that libraries
// which only know how to log into a stdlib *log.Logger can be routed
// through structured logging. Each Write becomes one Info-level line.
func WriterIntoLogger(l Logger) io.Writer {
	return &loggerWriter{logger: l}
}

type loggerWriter struct {
	logger Logger
}

// Write implements io.Writer.
func (w *loggerWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
