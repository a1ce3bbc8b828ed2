package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"

	"mcpauth/internal/config"
	"mcpauth/internal/oauth"
	pkgoauth "mcpauth/pkg/oauth"
)

// authPrint prints user-facing output unless --quiet is set.
func authPrint(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stdout, format, args...)
}

// authPrintln prints a user-facing line unless --quiet is set.
func authPrintln(format string, args ...interface{}) {
	authPrint(format+"\n", args...)
}

// serverTarget is a resolved server reference: the URL plus the per-server
// settings that apply to it.
type serverTarget struct {
	URL      string
	Scopes   []string
	ClientID string
	Headless bool
}

// resolveTarget turns a CLI server argument into a target. The argument is
// either the name of a configured server or a URL. An empty argument with an
// --endpoint style override is handled by the callers before this point.
func resolveTarget(cfg *config.Config, arg string) (*serverTarget, error) {
	if arg == "" {
		return nil, fmt.Errorf("no server specified; pass a server name or URL")
	}

	if entry := cfg.FindServer(arg); entry != nil {
		target := &serverTarget{
			URL:      entry.URL,
			Scopes:   entry.Scopes,
			ClientID: entry.ClientID,
			Headless: entry.Headless || cfg.Auth.Headless,
		}
		if len(target.Scopes) == 0 {
			target.Scopes = cfg.Auth.Scopes
		}
		if target.ClientID == "" {
			target.ClientID = cfg.Auth.ClientID
		}
		return target, nil
	}

	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return &serverTarget{
			URL:      arg,
			Scopes:   cfg.Auth.Scopes,
			ClientID: cfg.Auth.ClientID,
			Headless: cfg.Auth.Headless,
		}, nil
	}

	return nil, fmt.Errorf("unknown server %q: not a configured name and not a URL", arg)
}

// loadCLIConfig loads config.yaml from --config-path.
func loadCLIConfig() (config.Config, error) {
	return config.LoadConfig(configPath)
}

// newManager builds an auth manager from the loaded config and a resolved
// target. The notifier prints device flow instructions to stdout.
func newManager(cfg *config.Config, target *serverTarget) (*oauth.AuthManager, error) {
	flowTimeout := time.Duration(cfg.Auth.FlowTimeoutSeconds) * time.Second
	if flowTimeout <= 0 {
		flowTimeout = oauth.DefaultFlowTimeout
	}

	return oauth.NewAuthManager(oauth.ManagerConfig{
		TokenStorageDir: cfg.Auth.TokenStorageDir,
		FileMode:        true,
		CallbackPort:    cfg.Auth.CallbackPort,
		ClientID:        target.ClientID,
		Scopes:          target.Scopes,
		Headless:        target.Headless,
		FlowTimeout:     flowTimeout,
		SoftwareVersion: GetVersion(),
		Notifier:        printDeviceInstructions,
	})
}

// printDeviceInstructions shows the device flow verification URI and code.
// Device instructions go to stdout even with --quiet: without them the user
// cannot complete the flow.
func printDeviceInstructions(ctx context.Context, auth *pkgoauth.DeviceAuthorization) error {
	fmt.Fprintln(os.Stdout, oauth.FormatDeviceInstructions(auth))
	return nil
}

// newSpinner creates a progress spinner on stderr, or nil when --quiet is
// set. Callers must handle the nil case.
func newSpinner(suffix string) *spinner.Spinner {
	if quiet {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = os.Stderr
	s.Suffix = " " + suffix
	return s
}

func startSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Start()
	}
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}

// formatDuration renders a duration in a compact human form (e.g. "1h05m").
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// formatExpiryWithDirection renders a token expiry relative to now, colored
// by how urgent it is.
func formatExpiryWithDirection(expiry time.Time) string {
	if expiry.IsZero() {
		return text.FgHiBlack.Sprint("no expiry")
	}

	remaining := time.Until(expiry)
	switch {
	case remaining <= 0:
		return text.FgRed.Sprintf("expired %s ago", formatDuration(remaining))
	case remaining < 5*time.Minute:
		return text.FgYellow.Sprintf("expires in %s", formatDuration(remaining))
	default:
		return text.FgGreen.Sprintf("expires in %s", formatDuration(remaining))
	}
}
