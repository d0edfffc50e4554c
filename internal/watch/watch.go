// Package watch re-runs a callback when files under a directory change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"thenchange/internal/snapshot"
)

// Func is invoked with the sorted, slash-separated paths that changed since
// the previous call. The first call, made before any event, gets nil.
type Func func(ctx context.Context, changed []string) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last event before Func runs.
	Debounce time.Duration
	// Exclude skips any path with a segment matching an entry.
	Exclude []string
	Logger  *zap.Logger
}

// Watcher watches a directory tree.
type Watcher struct {
	root     string
	debounce time.Duration
	exclude  []string
	log      *zap.Logger
}

// New returns a watcher for root. Zero options get defaults.
func New(root string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.Exclude == nil {
		opts.Exclude = snapshot.DefaultExclude
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Watcher{root: root, debounce: opts.Debounce, exclude: opts.Exclude, log: opts.Logger}
}

// Run calls fn once, then again after every debounced batch of changes,
// until ctx is cancelled or fn returns an error. Cancellation returns nil.
func (w *Watcher) Run(ctx context.Context, fn Func) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	if err := fn(ctx, nil); err != nil {
		return err
	}
	return w.loop(ctx, fw.Events, fw.Errors, func(dir string) {
		if err := w.addTree(fw, dir); err != nil {
			w.log.Warn("failed to watch new directory", zap.String("dir", dir), zap.Error(err))
		}
	}, fn)
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && snapshot.Excluded(d.Name(), w.exclude) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// loop is the event pump, split from Run so it can be driven by channels.
func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, addDir func(string), fn Func) error {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			rel, ok := w.relative(ev.Name)
			if !ok {
				continue
			}
			if ev.Has(fsnotify.Create) && addDir != nil {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					addDir(ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			w.log.Debug("change batch", zap.Int("paths", len(changed)))
			if err := fn(ctx, changed); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// relative maps an event path to a root-relative slash path, rejecting
// excluded and out-of-tree paths.
func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if snapshot.ExcludedPath(rel, w.exclude) {
		return "", false
	}
	return rel, true
}
