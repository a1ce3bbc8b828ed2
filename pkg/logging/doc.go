// Package logging provides a structured logging system for mcpauth with
// unified log handling and level filtering.
//
// This package implements a thin wrapper around Go's standard slog package,
// providing consistent logging behavior with structured output organized by
// subsystem.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// # Usage
//
//	import "mcpauth/pkg/logging"
//
//	// Initialize with Info level logging to stderr
//	logging.InitForCLI(logging.LevelInfo, logging.ErrOutput())
//
//	// Log messages
//	logging.Info("Config", "Loaded configuration from %s", configPath)
//	logging.Debug("TokenStore", "Token cache miss for %s", serverURL)
//	logging.Error("Discovery", err, "Metadata discovery failed")
//
// Log output goes to stderr by default so that stdout stays clean for
// command output (access tokens, status tables) that may be piped.
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering:
//
//   - **Config**: Configuration loading and validation
//   - **TokenStore**: Token persistence and lifecycle
//   - **TokenWatcher**: Token directory change detection
//   - **Login/Logout**: CLI authentication commands
//
// Security-sensitive events (token storage, deletion, clearing) are logged
// by internal/oauth with a SECURITY_AUDIT prefix; token values are never
// logged, only server and issuer URLs.
package logging
