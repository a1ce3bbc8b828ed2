package cmd

import (
	"fmt"
	"strings"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var (
	loginEndpoint string
	loginDevice   bool
	loginScopes   []string
	loginClientID string
	loginPort     int
	loginForce    bool
)

var loginCmd = &cobra.Command{
	Use:   "login [server]",
	Short: "Authenticate to an MCP server",
	Long: `Login runs the OAuth authorization flow for a server and stores the
resulting token.

The server is either the name of an entry in config.yaml or a URL. By
default a browser window opens for the authorization code flow; --device
selects the device authorization grant instead (for SSH sessions and
other environments without a browser).

If a valid token is already stored, login does nothing unless --force
is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEndpoint, "endpoint", "", "Server URL (alternative to the positional argument)")
	loginCmd.Flags().BoolVar(&loginDevice, "device", false, "Use the device authorization grant instead of a browser")
	loginCmd.Flags().StringSliceVar(&loginScopes, "scopes", nil, "Scopes to request (overrides config)")
	loginCmd.Flags().StringVar(&loginClientID, "client-id", "", "Static OAuth client ID (skips dynamic registration)")
	loginCmd.Flags().IntVar(&loginPort, "port", 0, "Loopback callback port (overrides config)")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Re-authenticate even if a valid token is stored")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	arg := loginEndpoint
	if len(args) > 0 {
		if arg != "" {
			return fmt.Errorf("pass either a server argument or --endpoint, not both")
		}
		arg = args[0]
	}

	target, err := resolveTarget(&cfg, arg)
	if err != nil {
		return err
	}
	if len(loginScopes) > 0 {
		target.Scopes = loginScopes
	}
	if loginClientID != "" {
		target.ClientID = loginClientID
	}
	if loginDevice {
		target.Headless = true
	}
	if loginPort != 0 {
		cfg.Auth.CallbackPort = loginPort
	}

	manager, err := newManager(&cfg, target)
	if err != nil {
		return err
	}

	if manager.HasValidToken(target.URL) && !loginForce {
		authPrintln("Already authenticated to %s (use --force to re-authenticate)", target.URL)
		return nil
	}
	if loginForce {
		if err := manager.Invalidate(target.URL); err != nil {
			return err
		}
	}

	var s *spinner.Spinner
	if target.Headless {
		authPrintln("Starting device authorization for %s ...", target.URL)
	} else {
		authPrintln("Opening browser to authenticate to %s ...", target.URL)
		s = newSpinner("Waiting for authorization in the browser...")
		startSpinner(s)
	}

	token, err := manager.ObtainValidToken(cmd.Context(), target.URL)
	stopSpinner(s)
	if err != nil {
		return err
	}

	authPrintln("Logged in to %s", target.URL)
	if !token.ExpiresAt.IsZero() {
		authPrintln("Token %s", formatExpiryWithDirection(token.ExpiresAt))
	}
	if token.Scope != "" {
		authPrintln("Granted scopes: %s", strings.Join(strings.Fields(token.Scope), ", "))
	}
	return nil
}
