package oauth

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitForChanges(t *testing.T, changes *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if changes.Load() >= want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Expected at least %d change callbacks, got %d", want, changes.Load())
}

func TestTokenWatcher_DetectsTokenWrite(t *testing.T) {
	tmpDir := t.TempDir()

	var changes atomic.Int32
	watcher, err := NewTokenWatcher(TokenWatcherConfig{
		StorageDir: tmpDir,
		OnChange:   func() { changes.Add(1) },
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	if !watcher.IsRunning() {
		t.Fatal("Expected watcher to be running")
	}

	tokenFile := filepath.Join(tmpDir, "abc123.json")
	if err := os.WriteFile(tokenFile, []byte(`{"access_token": "tok"}`), 0600); err != nil {
		t.Fatalf("Failed to write token file: %v", err)
	}

	waitForChanges(t, &changes, 1)
}

func TestTokenWatcher_IgnoresClientRegistrations(t *testing.T) {
	tmpDir := t.TempDir()

	var changes atomic.Int32
	watcher, err := NewTokenWatcher(TokenWatcherConfig{
		StorageDir: tmpDir,
		OnChange:   func() { changes.Add(1) },
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	regFile := filepath.Join(tmpDir, "abc123"+clientFileSuffix)
	if err := os.WriteFile(regFile, []byte(`{"client_id": "c"}`), 0600); err != nil {
		t.Fatalf("Failed to write registration file: %v", err)
	}

	// Give the debounce window time to fire if it was (wrongly) armed.
	time.Sleep(2 * DefaultDebounceInterval)

	if got := changes.Load(); got != 0 {
		t.Errorf("Expected no change callbacks for registration files, got %d", got)
	}
}

func TestTokenWatcher_DetectsRemoval(t *testing.T) {
	tmpDir := t.TempDir()

	tokenFile := filepath.Join(tmpDir, "abc123.json")
	if err := os.WriteFile(tokenFile, []byte(`{"access_token": "tok"}`), 0600); err != nil {
		t.Fatalf("Failed to write token file: %v", err)
	}

	var changes atomic.Int32
	watcher, err := NewTokenWatcher(TokenWatcherConfig{
		StorageDir: tmpDir,
		OnChange:   func() { changes.Add(1) },
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	if err := os.Remove(tokenFile); err != nil {
		t.Fatalf("Failed to remove token file: %v", err)
	}

	waitForChanges(t, &changes, 1)
}

func TestTokenWatcher_StopIsIdempotent(t *testing.T) {
	watcher, err := NewTokenWatcher(TokenWatcherConfig{
		StorageDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	if err := watcher.Stop(); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	if watcher.IsRunning() {
		t.Error("Expected watcher to be stopped")
	}
}

func TestTokenWatcher_PollingFallback(t *testing.T) {
	tmpDir := t.TempDir()

	var changes atomic.Int32
	watcher, err := NewTokenWatcher(TokenWatcherConfig{
		StorageDir:    tmpDir,
		WatchInterval: 50 * time.Millisecond,
		OnChange:      func() { changes.Add(1) },
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	// Exercise the polling path directly.
	watcher.stopCh = make(chan struct{})
	watcher.running = true
	go watcher.pollForChanges()
	defer watcher.Stop()

	// Let the poller take its baseline before the change.
	time.Sleep(100 * time.Millisecond)

	tokenFile := filepath.Join(tmpDir, "abc123.json")
	if err := os.WriteFile(tokenFile, []byte(`{"access_token": "tok"}`), 0600); err != nil {
		t.Fatalf("Failed to write token file: %v", err)
	}

	waitForChanges(t, &changes, 1)
}
