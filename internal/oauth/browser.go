package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// AuthorizationUI performs the interactive half of the authorization-code
// flow: it owns the local resources the redirect needs, presents the
// authorization URL to the user, and returns the resulting callback.
//
// The production implementation (BrowserUI) binds a loopback listener and
// opens the system browser. Tests substitute an implementation that returns
// a precomputed code without creating sockets.
type AuthorizationUI interface {
	// Begin acquires whatever local resources the UI needs and returns the
	// redirect URI to register in the authorization request.
	Begin(ctx context.Context) (redirectURI string, err error)

	// Authorize presents the authorization URL to the user and waits for
	// the callback. Implementations must honor context cancellation.
	Authorize(ctx context.Context, authURL string) (*CallbackResult, error)

	// Close releases the UI's resources. It must be safe to call on every
	// exit path, including after errors.
	Close()
}

// BrowserUI is the production AuthorizationUI: a loopback CallbackServer
// plus the system browser.
type BrowserUI struct {
	port   int
	server *CallbackServer

	// openURL is swappable so tests can intercept the browser launch.
	openURL func(url string) error
}

// NewBrowserUI creates a browser-based authorization UI. Port 0 selects an
// ephemeral port.
func NewBrowserUI(port int) *BrowserUI {
	return &BrowserUI{
		port:    port,
		openURL: OpenBrowser,
	}
}

// Begin starts the loopback callback listener.
func (u *BrowserUI) Begin(ctx context.Context) (string, error) {
	u.server = NewCallbackServer(u.port)
	return u.server.Start(ctx)
}

// Authorize opens the browser and waits for the single callback. A failed
// browser launch is not fatal: the URL has already been shown to the user,
// who can open it manually.
func (u *BrowserUI) Authorize(ctx context.Context, authURL string) (*CallbackResult, error) {
	if err := u.openURL(authURL); err != nil {
		slog.Warn("Failed to open browser, user must open the URL manually",
			"error", err.Error(),
		)
	}
	return u.server.WaitForCallback(ctx)
}

// Close tears down the callback listener.
func (u *BrowserUI) Close() {
	if u.server != nil {
		u.server.Stop()
	}
}

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// Start the command but don't wait for it to complete.
	// The browser will open in the background.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}
