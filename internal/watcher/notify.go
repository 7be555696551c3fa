package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
)

// NotifyWaker turns filesystem notifications into early poll wake-ups.
// It never produces change events itself; the detector still decides what
// changed by comparing snapshots.
type NotifyWaker struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	logger  logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewNotifyWaker watches every directory under roots. Missing roots are
// skipped.
func NewNotifyWaker(roots []string, ignore []string, logger logging.Logger) (*NotifyWaker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchError(errors.ErrCodeScanFailed, "cannot create fsnotify watcher", err)
	}

	w := &NotifyWaker{
		watcher: watcher,
		wake:    make(chan struct{}, 1),
		logger:  logging.OrNop(logger).WithComponent("notify"),
		done:    make(chan struct{}),
	}

	for _, root := range roots {
		if err := w.addRecursive(root, ignore); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	go w.run()

	return w, nil
}

// Wake implements Waker.
func (w *NotifyWaker) Wake() <-chan struct{} {
	return w.wake
}

// Close stops watching.
func (w *NotifyWaker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *NotifyWaker) addRecursive(root string, ignore []string) error {
	keep := IgnoreFilter(ignore)
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
		if !entry.IsDir() {
			return nil
		}
		if path != root {
			if rel, relErr := filepath.Rel(root, path); relErr == nil && !keep(rel) {
				return filepath.SkipDir
			}
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return errors.NewWatchError(errors.ErrCodeScanFailed, "cannot watch directory", err).WithPath(root)
	}
	return nil
}

func (w *NotifyWaker) run() {
	defer close(w.done)
	ctx := context.Background()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				// new directories need their own watch
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err == nil {
						w.logger.Debug(ctx, "watching new directory", "path", event.Name)
					}
				}
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "fsnotify error")
		}
	}
}
