package oauth

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpauth/pkg/logging"
)

// DefaultTokenWatchInterval is the fallback polling interval when fsnotify
// is unavailable.
const DefaultTokenWatchInterval = 10 * time.Second

// DefaultDebounceInterval is the time to wait after the last file change
// before firing the callback.
const DefaultDebounceInterval = 500 * time.Millisecond

// TokenWatcherConfig holds configuration for the token directory watcher.
type TokenWatcherConfig struct {
	// StorageDir is the token storage directory to watch.
	StorageDir string

	// WatchInterval is the fallback polling interval when fsnotify is not available.
	WatchInterval time.Duration

	// OnChange is called when token files change.
	OnChange func()
}

// TokenWatcher monitors the token storage directory so long-running clients
// notice tokens written or removed by another process (e.g. `mcpauth login`
// in a second terminal). It uses fsnotify with a fallback to polling for
// environments where fsnotify is not available or reliable.
type TokenWatcher struct {
	mu sync.Mutex

	config TokenWatcherConfig

	// fsWatcher is the fsnotify watcher (nil when running in polling mode)
	fsWatcher *fsnotify.Watcher

	stopCh  chan struct{}
	running bool

	// lastModTimes tracks modification times for fallback polling
	lastModTimes map[string]time.Time

	// debounceTimer coalesces rapid successive changes
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// NewTokenWatcher creates a new token directory watcher.
func NewTokenWatcher(config TokenWatcherConfig) (*TokenWatcher, error) {
	if config.WatchInterval == 0 {
		config.WatchInterval = DefaultTokenWatchInterval
	}

	return &TokenWatcher{
		config:       config,
		lastModTimes: make(map[string]time.Time),
	}, nil
}

// Start begins watching for token changes.
func (w *TokenWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("TokenWatcher", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges()
		return nil
	}

	w.fsWatcher = watcher

	if err := w.fsWatcher.Add(w.config.StorageDir); err != nil {
		logging.Warn("TokenWatcher", "Failed to watch directory %s, falling back to polling: %v",
			w.config.StorageDir, err)
		w.fsWatcher.Close()
		w.fsWatcher = nil
		go w.pollForChanges()
		return nil
	}

	// Capture channels before releasing lock to avoid race conditions
	eventsCh := w.fsWatcher.Events
	errorsCh := w.fsWatcher.Errors

	go w.processEvents(eventsCh, errorsCh)

	logging.Info("TokenWatcher", "Started watching %s for token changes", w.config.StorageDir)
	return nil
}

// processEvents handles fsnotify events.
// The channels are passed as parameters to avoid race conditions with Stop().
func (w *TokenWatcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("TokenWatcher", err, "fsnotify error")
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *TokenWatcher) handleEvent(event fsnotify.Event) {
	if !isTokenFile(filepath.Base(event.Name)) {
		return
	}

	// Writes, creates, and removals all matter: a logout in another
	// process must be noticed too.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
		return
	}

	logging.Debug("TokenWatcher", "Token file changed: %s", event.Name)

	w.triggerDebounced()
}

// isTokenFile checks if a filename is a token record. Cached client
// registrations share the directory but don't affect request authentication.
func isTokenFile(fileName string) bool {
	return strings.HasSuffix(fileName, ".json") && !strings.HasSuffix(fileName, clientFileSuffix)
}

// triggerDebounced fires the callback after a quiet period, so a burst of
// changes (e.g. a refresh rewriting several records) yields one callback.
func (w *TokenWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(DefaultDebounceInterval, func() {
		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

// pollForChanges implements fallback polling when fsnotify is not available.
func (w *TokenWatcher) pollForChanges() {
	ticker := time.NewTicker(w.config.WatchInterval)
	defer ticker.Stop()

	w.updateModTimes()

	for {
		select {
		case <-w.stopCh:
			return

		case <-ticker.C:
			if w.checkForChanges() {
				logging.Debug("TokenWatcher", "Token file changes detected via polling")
				w.triggerDebounced()
			}
		}
	}
}

// updateModTimes records the current modification times of all token files.
func (w *TokenWatcher) updateModTimes() {
	for file, modTime := range w.scanModTimes() {
		w.lastModTimes[file] = modTime
	}
}

// checkForChanges reports whether any token file was added, modified, or removed.
func (w *TokenWatcher) checkForChanges() bool {
	current := w.scanModTimes()

	changed := false
	for file, modTime := range current {
		if last, exists := w.lastModTimes[file]; !exists || modTime.After(last) {
			changed = true
		}
	}
	for file := range w.lastModTimes {
		if _, exists := current[file]; !exists {
			changed = true
			delete(w.lastModTimes, file)
		}
	}
	for file, modTime := range current {
		w.lastModTimes[file] = modTime
	}

	return changed
}

// scanModTimes reads the modification times of every token file in the
// storage directory.
func (w *TokenWatcher) scanModTimes() map[string]time.Time {
	modTimes := make(map[string]time.Time)

	entries, err := os.ReadDir(w.config.StorageDir)
	if err != nil {
		return modTimes
	}

	for _, entry := range entries {
		if entry.IsDir() || !isTokenFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		modTimes[filepath.Join(w.config.StorageDir, entry.Name())] = info.ModTime()
	}

	return modTimes
}

// Stop gracefully stops the watcher.
func (w *TokenWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("TokenWatcher", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}

	logging.Info("TokenWatcher", "Stopped token watcher")
	return nil
}

// IsRunning returns whether the watcher is currently active.
func (w *TokenWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
