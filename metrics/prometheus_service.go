// Package metrics contains the prometheus infrastructure.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longphanquangminh/midnight-explorer/log"
)

const (
	moduleName = "metrics"
)

// PullService is a service that supports the Prometheus pull method.
type PullService struct {
	server *http.Server
	logger *log.Logger
}

// StartInstrumentation starts the pull metrics service.
func (s *PullService) StartInstrumentation() {
	s.logger.Info("starting pull metrics service", "endpoint", s.server.Addr)
	go s.startHandler()
}

func (s *PullService) startHandler() {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("pull metrics service terminated", "endpoint", s.server.Addr, "err", err)
	}
}

// Shutdown gracefully stops the pull metrics service.
func (s *PullService) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewPullService creates a new Prometheus pull service.
func NewPullService(pullEndpoint string, rootLogger *log.Logger) (*PullService, error) {
	return &PullService{
		server: &http.Server{
			Addr:           pullEndpoint,
			Handler:        promhttp.Handler(),
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger: rootLogger.WithModule(moduleName),
	}, nil
}
