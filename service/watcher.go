package service

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce collapses bursts of editor writes into one run
const DefaultWatchDebounce = 300 * time.Millisecond

// Watcher reports batches of changed files under a set of roots
type Watcher struct {
	roots    []string
	debounce time.Duration
	skip     func(path string, isDir bool) bool
	logger   *zap.Logger
}

// NewWatcher watches roots recursively. skip, when set, prunes directories
// and ignores files for which it returns true.
func NewWatcher(roots []string, debounce time.Duration, skip func(path string, isDir bool) bool, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{roots: roots, debounce: debounce, skip: skip, logger: logger}
}

// Run blocks until ctx is done, calling onChange with the sorted set of
// paths changed during each quiet period. Calls to onChange never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range w.roots {
		if err := w.addRecursive(fw, root); err != nil {
			return err
		}
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
		running sync.Mutex
	)
	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]bool)
		mu.Unlock()
		if len(paths) == 0 || ctx.Err() != nil {
			return
		}
		sort.Strings(paths)
		running.Lock()
		defer running.Unlock()
		onChange(ctx, paths)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				// new directories need their own watch
				if err := w.addRecursive(fw, ev.Name); err == nil {
					w.logger.Debug("watching new path", zap.String("path", ev.Name))
				}
			}
			if w.skip != nil && w.skip(ev.Name, false) {
				continue
			}
			mu.Lock()
			pending[ev.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skip != nil && w.skip(path, true) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
