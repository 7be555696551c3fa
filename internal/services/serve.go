package services

import (
	"context"
	"io"

	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/server"
	"github.com/conneroisu/quill/internal/websocket"
)

// ServeService runs the development server with hot reload.
type ServeService struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewServeService creates a new serve service. m may be nil.
func NewServeService(cfg *config.Config, logger logging.Logger, m *metrics.Metrics) *ServeService {
	return &ServeService{
		config:  cfg,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// DevServer assembles a dev server for the configured site without
// starting it.
func (s *ServeService) DevServer() (*server.DevServer, error) {
	site := NewSite(s.config, s.logger, s.metrics)

	channel := websocket.NewReloadChannel(websocket.ChannelOptions{
		OriginPatterns: s.config.Server.AllowedOrigins,
	}, s.logger, s.metrics)

	coordinator := site.NewCoordinator(channel)
	detector, closer, err := site.NewDetector(coordinator.HandleChanges)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Options{
		Addr:       s.config.Addr(),
		OutputDir:  s.config.Site.OutputDir,
		ReloadPath: s.config.Reload.Path,
		Builder:    site.Builder,
		Channel:    channel,
		Detector:   detector,
		Closers:    []io.Closer{closer},
		Metrics:    s.metrics,
	}, s.logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return srv, nil
}

// Serve runs the dev server until ctx is cancelled.
func (s *ServeService) Serve(ctx context.Context) error {
	srv, err := s.DevServer()
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
