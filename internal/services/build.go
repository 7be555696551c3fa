package services

import (
	"context"
	"time"

	"github.com/conneroisu/quill/internal/build"
	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

// BuildService runs one-shot builds.
type BuildService struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewBuildService creates a new build service. m may be nil.
func NewBuildService(cfg *config.Config, logger logging.Logger, m *metrics.Metrics) *BuildService {
	return &BuildService{
		config:  cfg,
		logger:  logging.OrNop(logger).WithComponent("build"),
		metrics: m,
	}
}

// BuildOptions contains options for the build process
type BuildOptions struct {
	// Clean removes the output directory and the persisted cache first.
	Clean bool
}

// BuildResult contains the result of a build operation
type BuildResult struct {
	Report   *build.Report
	Duration time.Duration
	Success  bool
}

// Build performs an incremental build. Task failures are reported in the
// result and returned as an ErrCodeBuildFailed error.
func (s *BuildService) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	site := NewSite(s.config, s.logger, s.metrics)

	if opts.Clean {
		if err := site.Builder.Clean(ctx); err != nil {
			return &BuildResult{Duration: time.Since(start)}, err
		}
	}

	report, err := site.Builder.BuildWithReport(ctx)
	result := &BuildResult{
		Report:   report,
		Duration: time.Since(start),
		Success:  err == nil,
	}

	return result, err
}
