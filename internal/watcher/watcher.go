// Package watcher reports debounced changes to a fixed set of files, such as
// the configuration file.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"turnstile/internal/logging"
)

// Watcher monitors individual files. The parent directories are watched so
// that editors replacing a file through rename are still observed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]struct{}
	debounce  time.Duration
	onChange  ChangeHandler
	pending   map[string]Event
	mu        sync.Mutex
	done      chan struct{}
	wg        sync.WaitGroup
	running   bool
	stopOnce  sync.Once
}

// New creates a watcher for files. A disabled config yields a watcher whose
// Start and Stop do nothing.
func New(cfg Config, files ...string) (*Watcher, error) {
	if !cfg.Enabled {
		return &Watcher{}, nil
	}
	if len(files) == 0 {
		return nil, errors.New("watcher: no files to watch")
	}

	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("watcher: resolve %s: %w", f, err)
		}
		set[abs] = struct{}{}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultConfig().Debounce
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		files:     set,
		debounce:  debounce,
		pending:   make(map[string]Event),
		done:      make(chan struct{}),
	}, nil
}

// SetOnChange sets the callback for file change events.
func (w *Watcher) SetOnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = handler
}

// Start begins watching for file changes.
func (w *Watcher) Start() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := make(map[string]struct{})
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", dir, err)
		}
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.processDebounce()
	return nil
}

// Stop stops watching and waits for the event goroutines to exit.
func (w *Watcher) Stop() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	if wasRunning {
		w.wg.Wait()
	}
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if _, ok := w.files[path]; !ok {
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	w.pending[path] = Event{Path: path, Operation: operation(event.Op), Time: time.Now()}
	w.mu.Unlock()
}

func (w *Watcher) processDebounce() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

// flushPending delivers events for files that have been quiet for the
// debounce interval.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	handler := w.onChange
	if handler == nil || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	now := time.Now()
	var toSend []Event
	for path, ev := range w.pending {
		if now.Sub(ev.Time) >= w.debounce {
			toSend = append(toSend, ev)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, ev := range toSend {
		// A rename or remove followed by a recreate is reported by what is on disk now.
		if _, err := os.Stat(ev.Path); err == nil && (ev.Operation == OpDelete || ev.Operation == OpRename) {
			ev.Operation = OpModify
		}
		handler(ev)
	}
}

func operation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		return OpRename
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Files returns the watched file paths.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	return out
}
