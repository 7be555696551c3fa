package services

import (
	"context"

	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

// WatchService rebuilds the site whenever its sources change, without
// serving it.
type WatchService struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewWatchService creates a new watch service. m may be nil.
func NewWatchService(cfg *config.Config, logger logging.Logger, m *metrics.Metrics) *WatchService {
	return &WatchService{
		config:  cfg,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// Watch builds once and then rebuilds on every change until ctx is
// cancelled. ready, if not nil, is called once the detector runs.
func (s *WatchService) Watch(ctx context.Context, ready func()) error {
	site := NewSite(s.config, s.logger, s.metrics)

	if err := site.Builder.Build(ctx); err != nil {
		s.logger.Warn(ctx, err, "initial build failed, watching anyway")
	}

	coordinator := site.NewCoordinator(nil)
	detector, closer, err := site.NewDetector(coordinator.HandleChanges)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := detector.Start(ctx); err != nil {
		return err
	}
	if ready != nil {
		ready()
	}

	<-ctx.Done()
	detector.Stop()
	<-detector.Done()

	s.logger.Info(context.Background(), "stopped watching")
	return nil
}
