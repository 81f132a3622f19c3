// Package common implements common explorer command options.
package common

import (
	"fmt"
	"io"
	stdLog "log"
	"os"

	"github.com/akrylysov/pogreb"

	"github.com/longphanquangminh/midnight-explorer/config"
	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/metrics"
)

var rootLogger = log.NewDefaultLogger("midnight-explorer")

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelDebug

	// Initialize explorer logging.
	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("midnight-explorer", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Route pogreb's internal logging through the structured logger. The
	// unwind depth skips the stdlib log adapter frames.
	pogrebLogger := RootLogger().WithModule("pogreb").WithCallerUnwind(7)
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(*pogrebLogger), "", 0))

	// Initialize Prometheus service.
	if cfg.Metrics != nil {
		promServer, err := metrics.NewPullService(cfg.Metrics.PullEndpoint, rootLogger)
		if err != nil {
			rootLogger.Error("failed to initialize metrics", "err", err)
			os.Exit(1)
		}
		promServer.StartInstrumentation()
	}
	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}
