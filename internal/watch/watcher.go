// Package watch delivers cross-process invalidation for a staging session.
// Every store write drops a revision signal file; this watcher observes the
// signals directory and tells the manager to reload when another process has
// persisted a newer revision for the same session key.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dakbench/internal/logging"
	"dakbench/internal/store"
)

// Reloader is the slice of the staging manager the watcher drives.
type Reloader interface {
	Reload() bool
	Revision() int64
}

// Stats tracks watcher activity for tests and debugging.
type Stats struct {
	SignalsSeen   int
	ReloadsOK     int
	ReloadsNoop   int
	Errors        int
	LastSignalRev int64
}

// Watcher observes one session's signal file.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	ground      Reloader
	signalsDir  string
	signalFile  string
	writerID    string // signals from this writer are our own and ignored
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// NewWatcher creates a watcher for the session key's signal file. writerID is
// the local store's writer identity; its own signals are skipped.
func NewWatcher(signalsDir, sessionKey, writerID string, ground Reloader) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		ground:      ground,
		signalsDir:  signalsDir,
		signalFile:  filepath.Join(signalsDir, store.KeyHash(sessionKey)+".rev"),
		writerID:    writerID,
		debounceMap: make(map[string]time.Time),
		debounceDur: 200 * time.Millisecond, // settle rapid write bursts
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the signals directory. Non-blocking; the event loop
// runs in its own goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.signalsDir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.watcher.Close()
		return err
	}
	logging.Watcher("watching %s for %s", w.signalsDir, filepath.Base(w.signalFile))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
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
		logging.Get(logging.CategoryWatcher).Error("error closing watcher: %v", err)
	}
	logging.Watcher("stopped")
}

// IsRunning reports whether the event loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns a copy of the activity counters.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// run is the watcher event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatcherDebug("context cancelled")
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
			logging.Get(logging.CategoryWatcher).Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

// handleEvent records a signal-file event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name != w.signalFile {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	logging.WatcherDebug("signal event: %s", event.Op)
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processDebounced acts on signals that have settled past the debounce window.
func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	settled := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			settled = true
		}
	}
	w.mu.Unlock()

	if settled {
		w.checkSignal()
	}
}

// checkSignal reads the signal file and reloads the staging ground when a
// foreign writer has moved the revision forward. The reload bumping the
// manager's seen revision is the delivery acknowledgment.
func (w *Watcher) checkSignal() {
	sig, ok := store.ReadSignal(w.signalFile)
	if !ok {
		return
	}

	w.mu.Lock()
	w.stats.SignalsSeen++
	w.stats.LastSignalRev = sig.Revision
	w.mu.Unlock()

	if sig.Writer == w.writerID {
		return
	}
	if sig.Revision <= w.ground.Revision() {
		w.mu.Lock()
		w.stats.ReloadsNoop++
		w.mu.Unlock()
		return
	}

	logging.Watcher("foreign write at revision %d (local %d), reloading", sig.Revision, w.ground.Revision())
	if w.ground.Reload() {
		w.mu.Lock()
		w.stats.ReloadsOK++
		w.mu.Unlock()
	} else {
		w.mu.Lock()
		w.stats.ReloadsNoop++
		w.mu.Unlock()
	}
}
