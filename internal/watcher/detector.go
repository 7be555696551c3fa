// Package watcher detects source changes by polling.
//
// The ChangeDetector keeps a snapshot of modification times for every
// watched file and diffs it against a fresh snapshot on each poll. Polling
// keeps detection deterministic across platforms and editors; an optional
// Waker (see NotifyWaker) can only make a poll happen sooner.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 500 * time.Millisecond

// ChangeEvent describes one changed file.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the kind of change.
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	default:
		return "unknown"
	}
}

// ChangeHandler receives every change found by one poll as a single batch.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// Waker can cut a poll interval short.
type Waker interface {
	Wake() <-chan struct{}
}

// Options configures a ChangeDetector.
type Options struct {
	Roots        []string
	Extensions   []string
	Ignore       []string
	Filters      []FileFilter
	PollInterval time.Duration
	Waker        Waker
}

type fileState struct {
	modTime time.Time
	size    int64
}

// ChangeDetector polls a set of roots for new and modified files.
//
// A path is reported when it appears or its modification time strictly
// advances. Deleted paths leave the snapshot silently, so a file that is
// later re-created is reported as new.
type ChangeDetector struct {
	opts    Options
	accept  FileFilter
	keep    FileFilter
	handler ChangeHandler
	logger  logging.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	snapshot map[string]fileState

	running atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

// NewChangeDetector creates a detector that reports to handler. m may be nil.
func NewChangeDetector(opts Options, handler ChangeHandler, logger logging.Logger, m *metrics.Metrics) *ChangeDetector {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	filters := append([]FileFilter{ExtensionFilter(opts.Extensions)}, opts.Filters...)

	return &ChangeDetector{
		opts:     opts,
		accept:   All(filters...),
		keep:     IgnoreFilter(opts.Ignore),
		handler:  handler,
		logger:   logging.OrNop(logger).WithComponent("watcher"),
		metrics:  m,
		snapshot: make(map[string]fileState),
	}
}

// Start takes the initial snapshot synchronously and then polls in the
// background until Stop is called or ctx is cancelled. Files present at
// Start are never reported.
func (d *ChangeDetector) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.NewWatchError(errors.ErrCodeAlreadyWatching, "change detector is already running", nil)
	}

	current, err := d.scanRoots()
	if err != nil {
		d.running.Store(false)
		return err
	}

	d.mu.Lock()
	d.snapshot = current
	d.mu.Unlock()

	d.stopped.Store(false)
	d.done = make(chan struct{})

	d.logger.Info(ctx, "watching for changes",
		"roots", d.opts.Roots,
		"files", len(current),
		"interval", d.opts.PollInterval)

	go d.loop(ctx, d.done)

	return nil
}

// Stop asks the poll loop to exit. It does not interrupt a sleep or scan in
// progress; the loop exits at the top of its next iteration.
func (d *ChangeDetector) Stop() {
	d.stopped.Store(true)
}

// Done is closed when the poll loop has exited. It is nil before Start.
func (d *ChangeDetector) Done() <-chan struct{} {
	return d.done
}

// IsWatching reports whether the poll loop is running.
func (d *ChangeDetector) IsWatching() bool {
	return d.running.Load()
}

func (d *ChangeDetector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.running.Store(false)

	delay := d.opts.PollInterval
	for {
		if d.stopped.Load() || ctx.Err() != nil {
			d.logger.Debug(ctx, "poll loop stopped")
			return
		}

		if !d.sleep(ctx, delay) {
			return
		}

		events, err := d.Scan()
		if err != nil {
			delay = 2 * d.opts.PollInterval
			d.logger.Warn(ctx, err, "scan failed, backing off", "delay", delay)
			continue
		}
		delay = d.opts.PollInterval

		if len(events) == 0 {
			continue
		}

		d.metrics.AddChanges(len(events))
		d.logger.Debug(ctx, "changes detected", "count", len(events))

		d.dispatch(ctx, events)
	}
}

// dispatch hands one batch to the handler. A failing or panicking handler
// is logged and the loop keeps polling.
func (d *ChangeDetector) dispatch(ctx context.Context, events []ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.NewInternalError(errors.ErrCodeTaskPanic, "change handler panicked", fmt.Errorf("%v", r))
			d.logger.Error(ctx, err, "change handler panicked", "count", len(events))
		}
	}()

	if err := d.handler(ctx, events); err != nil {
		d.logger.Error(ctx, err, "change handler failed", "count", len(events))
	}
}

// sleep waits for delay, an early wake-up or cancellation. It returns false
// when ctx was cancelled.
func (d *ChangeDetector) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var wake <-chan struct{}
	if d.opts.Waker != nil {
		wake = d.opts.Waker.Wake()
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-wake:
	}
	return true
}

// Scan takes a fresh snapshot, replaces the current one and returns the
// files that are new or have a strictly newer modification time, sorted by
// path.
func (d *ChangeDetector) Scan() ([]ChangeEvent, error) {
	current, err := d.scanRoots()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	previous := d.snapshot
	d.snapshot = current
	d.mu.Unlock()

	return diff(previous, current), nil
}

// Snapshot returns a copy of the known modification times.
func (d *ChangeDetector) Snapshot() map[string]time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]time.Time, len(d.snapshot))
	for path, st := range d.snapshot {
		out[path] = st.modTime
	}
	return out
}

func diff(previous, current map[string]fileState) []ChangeEvent {
	var events []ChangeEvent
	for path, cur := range current {
		prev, known := previous[path]
		switch {
		case !known:
			events = append(events, ChangeEvent{Type: EventTypeCreated, Path: path, ModTime: cur.modTime, Size: cur.size})
		case cur.modTime.After(prev.modTime):
			events = append(events, ChangeEvent{Type: EventTypeModified, Path: path, ModTime: cur.modTime, Size: cur.size})
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// scanRoots walks every root. Missing roots and files that vanish during the
// walk are skipped.
func (d *ChangeDetector) scanRoots() (map[string]fileState, error) {
	snapshot := make(map[string]fileState)

	for _, root := range d.opts.Roots {
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					if path == root {
						return filepath.SkipDir
					}
					return nil
				}
				return err
			}

			if path != root {
				rel, relErr := filepath.Rel(root, path)
				if relErr == nil && !d.keep(rel) {
					if entry.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}
			if entry.IsDir() || !d.accept(path) {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			snapshot[path] = fileState{modTime: info.ModTime(), size: info.Size()}
			return nil
		})
		if err != nil {
			return nil, errors.NewWatchError(errors.ErrCodeScanFailed, "cannot scan watched directory", err).WithPath(root)
		}
	}

	return snapshot, nil
}
