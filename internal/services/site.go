// Package services assembles quill's components from configuration and
// runs them for the CLI commands.
package services

import (
	"io"

	"github.com/conneroisu/quill/internal/build"
	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/reload"
	"github.com/conneroisu/quill/internal/renderer"
	"github.com/conneroisu/quill/internal/watcher"
)

// Site holds the components that build one site.
type Site struct {
	Config  *config.Config
	Cache   *build.DependencyCache
	Builder *build.SiteBuilder
	Metrics *metrics.Metrics

	logger logging.Logger
}

// NewSite loads the persisted cache and assembles the site builder
// described by cfg. m may be nil.
func NewSite(cfg *config.Config, logger logging.Logger, m *metrics.Metrics) *Site {
	logger = logging.OrNop(logger)

	cache := build.NewDependencyCache(cfg.Build.CacheDir, logger, build.WithCacheMetrics(m))
	scheduler := build.NewTaskScheduler(logger, m)
	builder := build.NewSiteBuilder(build.SiteOptions{
		ContentDir: cfg.Site.ContentDir,
		StaticDir:  cfg.Site.StaticDir,
		OutputDir:  cfg.Site.OutputDir,
		Workers:    cfg.Build.Workers,
		Timeout:    cfg.Build.Timeout,
	}, cache, scheduler, renderer.NewLayoutRenderer(cfg.Site.ContentDir, cfg.Site.LayoutDir), logger)

	return &Site{
		Config:  cfg,
		Cache:   cache,
		Builder: builder,
		Metrics: m,
		logger:  logger,
	}
}

// NewCoordinator creates the reload coordinator for the site. channel may
// be nil when nobody can connect.
func (s *Site) NewCoordinator(channel reload.Broadcaster) *reload.Coordinator {
	return reload.NewCoordinator(reload.Options{
		Classifier: reload.NewClassifier(s.Config.Site.ContentDir, s.Config.Site.StaticDir, nil),
		Cache:      s.Cache,
		Builder:    s.Builder,
		Assets:     s.Builder,
		Channel:    channel,
		Debounce:   s.Config.Reload.Debounce,
	}, s.logger, s.Metrics)
}

// NewDetector creates the change detector for the watched directories. The
// returned closer releases the filesystem notifier when watch.notify is on
// and is never nil.
func (s *Site) NewDetector(handler watcher.ChangeHandler) (*watcher.ChangeDetector, io.Closer, error) {
	var (
		waker  watcher.Waker
		closer io.Closer = nopCloser{}
	)
	if s.Config.Watch.Notify {
		notify, err := watcher.NewNotifyWaker(s.Config.Watch.Dirs, s.Config.Watch.Ignore, s.logger)
		if err != nil {
			return nil, nil, err
		}
		waker, closer = notify, notify
	}

	detector := watcher.NewChangeDetector(watcher.Options{
		Roots:        s.Config.Watch.Dirs,
		Extensions:   s.Config.Watch.Extensions,
		Ignore:       s.Config.Watch.Ignore,
		Filters:      []watcher.FileFilter{watcher.NoGitFilter},
		PollInterval: s.Config.Watch.PollInterval,
		Waker:        waker,
	}, handler, s.logger, s.Metrics)

	return detector, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
