// Package watch re-runs reconciliation whenever the external activity
// database changes on disk. The reconciler itself stays pull-based; the
// watcher only decides when to invoke it.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hexdash/internal/logging"
)

// Reconciler is the callback invoked after changes settle. Errors are
// logged, not fatal; the watcher keeps running.
type Reconciler func(ctx context.Context) error

// Watcher monitors the directory holding the activity database and
// triggers reconciliation after writes settle. sqlite writes touch the
// main file plus -wal/-journal siblings, so events are matched by base
// name prefix.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dbPath      string
	reconcile   Reconciler
	debounceDur time.Duration
	lastEvent   time.Time
	pending     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity for the status command and debugging.
type Stats struct {
	EventsSeen     int
	RunsTriggered  int
	Errors         int
	LastEventTime  time.Time
	LastTriggerEnd time.Time
}

// New creates a watcher over the database at dbPath.
func New(dbPath string, reconcile Reconciler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		dbPath:      dbPath,
		reconcile:   reconcile,
		debounceDur: 2 * time.Second, // sqlite checkpoints come in bursts
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.dbPath)
	if err := w.watcher.Add(dir); err != nil {
		// The directory may appear later when the editor first runs.
		logging.SyncWarn("Watch: cannot watch %s yet: %v", dir, err)
	} else {
		logging.Sync("Watch: watching %s for changes to %s", dir, filepath.Base(w.dbPath))
	}

	go w.run(ctx)
	return nil
}

// Stop halts the event loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategorySync).Error("Watch: close failed: %v", err)
	}
	logging.Sync("Watch: stopped")
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a snapshot of watcher activity.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategorySync).Error("Watch: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.maybeTrigger(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasPrefix(filepath.Base(event.Name), filepath.Base(w.dbPath)) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	logging.Get(logging.CategorySync).Debug("Watch: %s changed", event.Name)
	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.lastEvent = time.Now()
	w.pending = true
	w.mu.Unlock()
}

// maybeTrigger runs the reconciler once events have settled past the
// debounce window.
func (w *Watcher) maybeTrigger(ctx context.Context) {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	if _, err := os.Stat(w.dbPath); err != nil {
		logging.SyncWarn("Watch: database missing, skipping run: %v", err)
		return
	}

	if err := w.reconcile(ctx); err != nil {
		logging.SyncWarn("Watch: reconcile failed: %v", err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.stats.RunsTriggered++
	w.stats.LastTriggerEnd = time.Now()
	w.mu.Unlock()
}
