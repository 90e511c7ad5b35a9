// Package watcher feeds documents dropped into an inbox directory into the ingestion queue.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/pkg/utils"
)

const (
	defaultDebounce = 400 * time.Millisecond
	inboxExtension  = ".json"
)

// Watcher watches one directory tree for JSON files and reports settled changes.
type Watcher struct {
	root      string
	recursive bool
	onChange  func(path string)
	onRemove  func(path string)
	debounce  time.Duration
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	pending   map[string]*time.Timer
	dirs      []string
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	logger    *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for watcher events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for root. onChange is called once a created or written
// JSON file has been quiet for the debounce period; onRemove when one is deleted or renamed away.
func NewWatcher(root string, recursive bool, onChange, onRemove func(path string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:      filepath.Clean(root),
		recursive: recursive,
		onChange:  onChange,
		onRemove:  onRemove,
		debounce:  defaultDebounce,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start creates the root if missing and begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.watchTreeLocked(w.root); err != nil {
		_ = fw.Close()
		w.watcher = nil
		return err
	}
	w.started = true
	w.logger.Info("inbox watcher started", zap.String("root", w.root), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !inDir(w.root, path) {
		return
	}
	w.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if isInboxFile(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
		if isInboxFile(path) && w.onRemove != nil {
			w.onRemove(path)
		}
	}
}

// handleNewDirectory watches a directory moved or created under the root and reports
// the files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if err := w.watchTreeLocked(dir); err != nil {
		w.logger.Warn("inbox watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()
	w.scan(dir)
}

func (w *Watcher) watchTreeLocked(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !w.recursive {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.dirs = append(w.dirs, root)
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.dirs = append(w.dirs, path)
		return nil
	})
}

// Directories returns the directories currently watched.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

// SyncExisting reports every JSON file already present under the root through onChange.
// Call it after Start to pick up files dropped while the service was down.
func (w *Watcher) SyncExisting() {
	w.scan(w.root)
}

func (w *Watcher) scan(root string) {
	if w.onChange == nil {
		return
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isInboxFile(path) {
			w.onChange(path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("inbox scan failed", zap.String("root", root), zap.Error(err))
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// Stop stops watching and drops pending notifications.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.dirs = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func isInboxFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), inboxExtension)
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
