// Package watcher triggers incremental index builds when the corpus
// directory changes. Bursts of file events (editor saves, bulk copies)
// are debounced so each settled batch causes exactly one build.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is how long the corpus must stay quiet before a
// build is triggered.
const DefaultDebounceWindow = 2 * time.Second

// BuildFunc runs one incremental build.
type BuildFunc func(ctx context.Context) error

// Watcher observes a corpus directory and invokes a build after changes
// settle.
type Watcher struct {
	corpusDir  string
	extensions map[string]struct{}
	window     time.Duration
	build      BuildFunc
	logger     *slog.Logger
}

// New creates a watcher for the corpus directory. Only files with the
// given extensions count as changes.
func New(corpusDir string, extensions []string, window time.Duration, build BuildFunc, logger *slog.Logger) *Watcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Watcher{
		corpusDir:  corpusDir,
		extensions: exts,
		window:     window,
		build:      build,
		logger:     logger,
	}
}

// Run watches until the context is canceled. Build failures are logged
// and watching continues; only watcher-level failures end the loop.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.corpusDir); err != nil {
		return err
	}

	w.logger.Info("watch_started",
		slog.String("corpus", w.corpusDir),
		slog.Duration("debounce", w.window))

	var timer *time.Timer
	var settled <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// New subdirectories must be watched as they appear.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fw, event.Name); err != nil {
						w.logger.Warn("watch_add_failed",
							slog.String("path", event.Name),
							slog.String("error", err.Error()))
					}
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("corpus_changed",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.window)
				settled = timer.C
			} else {
				timer.Reset(w.window)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))

		case <-settled:
			timer = nil
			settled = nil
			w.logger.Info("corpus_settled_rebuilding")
			if err := w.build(ctx); err != nil {
				w.logger.Error("watch_build_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// relevant reports whether an event concerns an indexable corpus file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(event.Name))]
	return ok
}

// addRecursive watches a directory tree, skipping hidden directories.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
