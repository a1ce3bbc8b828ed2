package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mcpauth/internal/config"
	"mcpauth/pkg/logging"
	pkgoauth "mcpauth/pkg/oauth"
)

// Exit codes returned by the CLI. Scripts branch on these: 2 means the user
// has to log in again, 3 means a login was attempted and did not complete.
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

var (
	version = "dev"

	configPath string
	debugMode  bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "mcpauth",
	Short: "OAuth client for remote MCP servers",
	Long: `mcpauth authenticates to OAuth-protected MCP servers and manages the
resulting tokens.

It discovers each server's authorization server, registers a client
dynamically when the server supports it, and runs either the browser
authorization code flow (with PKCE) or the device authorization grant.
Tokens are stored under ~/.config/mcpauth/tokens and refreshed
automatically when they expire.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if debugMode {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, logging.ErrOutput())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(),
		"Directory containing config.yaml")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
}

// SetVersion sets the version string reported by --version.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
	rootCmd.Version = version
}

// GetVersion returns the version string reported by --version.
func GetVersion() string {
	return version
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.SetVersionTemplate(`{{printf "mcpauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return getExitCode(err)
	}
	return ExitCodeSuccess
}

// getExitCode maps an error to the CLI exit code contract.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if errors.Is(err, pkgoauth.ErrReauthRequired) {
		return ExitCodeAuthRequired
	}

	var flowErr *pkgoauth.FlowError
	switch {
	case errors.As(err, &flowErr),
		errors.Is(err, pkgoauth.ErrAuthentication),
		errors.Is(err, pkgoauth.ErrAuthorizationDenied),
		errors.Is(err, pkgoauth.ErrAuthorizationTimeout),
		errors.Is(err, pkgoauth.ErrCSRFStateMismatch),
		errors.Is(err, pkgoauth.ErrDeviceAuthDenied),
		errors.Is(err, pkgoauth.ErrDeviceAuthExpired):
		return ExitCodeAuthFailed
	}

	// Is401Error catches rejections that lost their typed identity on the
	// way through third-party transports and carry only the status string.
	if pkgoauth.Is401Error(err) {
		return ExitCodeAuthRequired
	}

	return ExitCodeError
}
