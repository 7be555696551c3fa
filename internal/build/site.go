package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/renderer"
)

// DefaultContentExtensions are rendered; other files under the content
// directory are copied next to their page.
var DefaultContentExtensions = []string{".md", ".markdown", ".html", ".htm"}

// SiteOptions locates the source and output trees of a site.
type SiteOptions struct {
	ContentDir        string
	StaticDir         string
	OutputDir         string
	ContentExtensions []string
	Workers           int
	Timeout           time.Duration
}

// Report summarizes one build.
type Report struct {
	Scheduled int                 `json:"scheduled" yaml:"scheduled"`
	Built     int                 `json:"built" yaml:"built"`
	Restored  int                 `json:"restored" yaml:"restored"`
	Skipped   int                 `json:"skipped" yaml:"skipped"`
	Failed    int                 `json:"failed" yaml:"failed"`
	Pruned    int                 `json:"pruned" yaml:"pruned"`
	Failures  []errors.BuildError `json:"failures,omitempty" yaml:"failures,omitempty"`
	Duration  time.Duration       `json:"duration" yaml:"duration"`
}

// SiteBuilder is the build entry point. It walks the source tree, asks the
// DependencyCache what is stale, runs the stale work on the TaskScheduler and
// records the results back into the cache once the batch has finished.
type SiteBuilder struct {
	opts      SiteOptions
	cache     *DependencyCache
	scheduler *TaskScheduler
	renderer  renderer.Renderer
	assets    renderer.Renderer
	logger    logging.Logger

	// one build at a time
	mu         sync.Mutex
	contentExt map[string]struct{}
}

// NewSiteBuilder creates a builder that renders content with r.
func NewSiteBuilder(
	opts SiteOptions,
	cache *DependencyCache,
	scheduler *TaskScheduler,
	r renderer.Renderer,
	logger logging.Logger,
) *SiteBuilder {
	if len(opts.ContentExtensions) == 0 {
		opts.ContentExtensions = DefaultContentExtensions
	}
	contentExt := make(map[string]struct{}, len(opts.ContentExtensions))
	for _, ext := range opts.ContentExtensions {
		contentExt[strings.ToLower(ext)] = struct{}{}
	}

	return &SiteBuilder{
		opts:       opts,
		cache:      cache,
		scheduler:  scheduler,
		renderer:   r,
		assets:     renderer.CopyRenderer{},
		logger:     logging.OrNop(logger).WithComponent("site"),
		contentExt: contentExt,
	}
}

// Cache returns the builder's dependency cache.
func (b *SiteBuilder) Cache() *DependencyCache {
	return b.cache
}

// Build rebuilds whatever is stale. It returns an error when any task failed.
func (b *SiteBuilder) Build(ctx context.Context) error {
	_, err := b.BuildWithReport(ctx)
	return err
}

// BuildWithReport rebuilds whatever is stale and reports what happened.
func (b *SiteBuilder) BuildWithReport(ctx context.Context) (*Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	report := &Report{}

	sources, err := b.collectSources()
	if err != nil {
		return report, err
	}

	report.Pruned = b.prune(ctx, sources)

	var tasks []Task
	for _, path := range sortedKeys(sources) {
		task := sources[path]
		target := task.Data.(string)

		if !b.cache.NeedsRebuild(path) {
			if fileExists(target) {
				report.Skipped++
				continue
			}
			if out, ok := b.cache.Output(path); ok {
				if err := writeOutput(target, out); err == nil {
					report.Restored++
					continue
				}
			}
		}
		tasks = append(tasks, task)
	}
	report.Scheduled = len(tasks)

	results := b.scheduler.Run(ctx, tasks, b.work, RunOptions{
		MaxConcurrency: b.opts.Workers,
		Timeout:        b.opts.Timeout,
	})

	collector := errors.NewErrorCollector()
	b.record(ctx, results, sources, collector)

	report.Failures = collector.GetErrors()
	report.Failed = collector.Len()
	report.Built = len(results) - report.Failed
	report.Duration = time.Since(start)

	saveErr := b.cache.Save()
	if saveErr != nil {
		b.logger.Error(ctx, saveErr, "failed to persist cache")
	}

	b.logger.Info(ctx, "build complete",
		"scheduled", report.Scheduled,
		"built", report.Built,
		"restored", report.Restored,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"pruned", report.Pruned,
		"duration", report.Duration)

	if collector.HasErrors() {
		return report, errors.NewBuildError(errors.ErrCodeBuildFailed,
			fmt.Sprintf("%d of %d tasks failed", report.Failed, report.Scheduled), nil)
	}
	if saveErr != nil {
		return report, saveErr
	}

	return report, nil
}

// record applies a finished batch to the cache. Nothing is recorded while
// the batch is still running.
func (b *SiteBuilder) record(
	ctx context.Context,
	results []Result,
	sources map[string]Task,
	collector *errors.ErrorCollector,
) {
	refresh := make(map[string]struct{})

	for _, r := range results {
		if !r.Success {
			b.cache.Invalidate(r.FilePath)
			collector.Add(errors.BuildError{
				File:     r.FilePath,
				TaskID:   r.TaskID,
				Message:  r.Error,
				Severity: errors.ErrorSeverityError,
			})
			b.logger.Warn(ctx, nil, "task failed", "path", r.FilePath, "error", r.Error)

			if r.Type == TaskContent {
				target := sources[r.FilePath].Data.(string)
				page := renderErrorPage(ctx, errors.BuildError{File: r.FilePath, Message: r.Error})
				if err := writeOutput(target, page); err != nil {
					b.logger.Warn(ctx, err, "cannot write error page", "path", target)
				}
			}
			continue
		}

		b.cache.ResetDependencies(r.FilePath)
		for _, dep := range r.Dependencies {
			b.cache.RecordDependency(r.FilePath, dep)
			if _, isSource := sources[dep]; !isSource {
				refresh[dep] = struct{}{}
			}
		}
		if r.Type == TaskContent {
			b.cache.Put(r.FilePath, r.Output)
		}
		if err := b.cache.UpdateTimestamp(r.FilePath); err != nil {
			b.logger.Warn(ctx, err, "cannot record timestamp", "path", r.FilePath)
		}
	}

	// dependencies that are not build targets themselves are current once
	// every stale dependent has been rebuilt against them
	for _, dep := range sortedKeys(refresh) {
		if err := b.cache.UpdateTimestamp(dep); err != nil {
			b.logger.Warn(ctx, err, "cannot record dependency timestamp", "path", dep)
		}
	}
}

func (b *SiteBuilder) work(ctx context.Context, task Task) (Output, error) {
	target, _ := task.Data.(string)

	r := b.assets
	if task.Type == TaskContent {
		r = b.renderer
	}

	rendered, err := r.Render(ctx, task.FilePath)
	if err != nil {
		return Output{}, err
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if err := writeOutput(target, rendered.Output); err != nil {
		return Output{}, err
	}

	return Output{Content: rendered.Output, Dependencies: rendered.Dependencies}, nil
}

// SyncAsset copies a single static file into the output tree and records it
// as current.
func (b *SiteBuilder) SyncAsset(ctx context.Context, path string) error {
	rel, ok := relativeTo(b.opts.StaticDir, path)
	if !ok {
		return errors.NewBuildError(errors.ErrCodeBuildFailed,
			"asset is outside the static directory", nil).WithPath(path)
	}

	rendered, err := b.assets.Render(ctx, path)
	if err != nil {
		return err
	}
	target := filepath.Join(b.opts.OutputDir, rel)
	if err := writeOutput(target, rendered.Output); err != nil {
		return err
	}

	b.logger.Debug(ctx, "asset synced", "path", path, "target", target)

	return b.cache.UpdateTimestamp(path)
}

// Clean removes the output directory and every cache record.
func (b *SiteBuilder) Clean(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.RemoveAll(b.opts.OutputDir); err != nil {
		return errors.WrapIO(err, errors.ErrCodeBuildFailed, "cannot remove output directory").
			WithPath(b.opts.OutputDir)
	}
	if err := b.cache.Purge(); err != nil {
		return err
	}

	b.logger.Info(ctx, "output and cache cleaned", "output", b.opts.OutputDir)
	return nil
}

// collectSources maps every source file to its task. Hidden files and
// directories are skipped. A missing root is treated as empty.
func (b *SiteBuilder) collectSources() (map[string]Task, error) {
	sources := make(map[string]Task)

	walk := func(root string, classify func(path, rel string) Task) error {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			sources[path] = classify(path, rel)
			return nil
		})
		if err != nil {
			return errors.WrapIO(err, errors.ErrCodeScanFailed, "cannot walk source tree").WithPath(root)
		}
		return nil
	}

	if err := walk(b.opts.ContentDir, func(path, rel string) Task {
		if b.isContent(path) {
			return Task{ID: path, FilePath: path, Type: TaskContent, Data: b.pageTarget(rel)}
		}
		return Task{ID: path, FilePath: path, Type: TaskAsset, Data: filepath.Join(b.opts.OutputDir, rel)}
	}); err != nil {
		return nil, err
	}

	if err := walk(b.opts.StaticDir, func(path, rel string) Task {
		return Task{ID: path, FilePath: path, Type: TaskAsset, Data: filepath.Join(b.opts.OutputDir, rel)}
	}); err != nil {
		return nil, err
	}

	return sources, nil
}

// prune drops records and output of source files that no longer exist.
func (b *SiteBuilder) prune(ctx context.Context, sources map[string]Task) int {
	pruned := 0
	for _, record := range b.cache.Records() {
		if _, ok := sources[record.Path]; ok {
			continue
		}

		var target string
		if rel, ok := relativeTo(b.opts.ContentDir, record.Path); ok {
			if b.isContent(record.Path) {
				target = b.pageTarget(rel)
			} else {
				target = filepath.Join(b.opts.OutputDir, rel)
			}
		} else if rel, ok := relativeTo(b.opts.StaticDir, record.Path); ok {
			target = filepath.Join(b.opts.OutputDir, rel)
		} else {
			// a dependency outside the source tree, such as a layout
			continue
		}

		b.cache.Invalidate(record.Path)
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			b.logger.Warn(ctx, err, "cannot remove stale output", "path", target)
		}
		pruned++
	}
	return pruned
}

func (b *SiteBuilder) isContent(path string) bool {
	_, ok := b.contentExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (b *SiteBuilder) pageTarget(rel string) string {
	return filepath.Join(b.opts.OutputDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".html")
}

func relativeTo(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func writeOutput(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.WrapIO(err, errors.ErrCodeBuildFailed, "cannot create output directory").WithPath(target)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeBuildFailed, "cannot write output").WithPath(target)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
