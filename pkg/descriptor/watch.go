package descriptor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/libretto/internal/log"
)

// DefaultWatchDebounce collapses bursts of filesystem events into one
// reload.
const DefaultWatchDebounce = 200 * time.Millisecond

// WatchConfig configures definition watching.
type WatchConfig struct {
	// Debounce delays the reload after a change (defaults to 200ms)
	Debounce time.Duration

	// Logger receives watch diagnostics (optional)
	Logger *slog.Logger
}

// Watcher reloads one YAML definition when its file changes. Reload
// results are delivered to the onChange callback; a failed parse reports
// the error and the caller keeps its previous descriptor.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func(*ClientDescriptor, error)
	debounce  time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	timer *time.Timer

	wg sync.WaitGroup
}

// Watch starts watching a definition file. The watcher stops when ctx is
// cancelled or Close is called.
func Watch(ctx context.Context, path string, cfg WatchConfig, onChange func(*ClientDescriptor, error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory, not the file: editors often replace files by
	// rename, which drops a direct file watch.
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultWatchDebounce
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		onChange:  onChange,
		debounce:  debounce,
		logger:    logger,
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	return w, nil
}

// Close stops the watcher and waits for in-flight work.
func (w *Watcher) Close() error {
	err := w.fsWatcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("definition changed", "path", w.path, "op", event.Op.String())
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	desc, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("definition reload failed", "path", w.path, "error", err)
		w.onChange(nil, err)
		return
	}
	w.logger.Info("definition reloaded", "path", w.path, "client", desc.Name)
	w.onChange(desc, nil)
}
