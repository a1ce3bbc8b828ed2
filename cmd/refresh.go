package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshEndpoint string

var refreshCmd = &cobra.Command{
	Use:   "refresh [server]",
	Short: "Refresh the stored token for a server",
	Long: `Refresh forces a refresh-token grant for the server, replacing the
stored access token even when it is still valid. Servers without a
stored refresh token need a full login instead (exit code 2).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringVar(&refreshEndpoint, "endpoint", "", "Server URL (alternative to the positional argument)")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	arg := refreshEndpoint
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

	manager, err := newManager(&cfg, target)
	if err != nil {
		return err
	}

	token, err := manager.Refresh(cmd.Context(), target.URL)
	if err != nil {
		return err
	}

	authPrintln("Refreshed token for %s", target.URL)
	if !token.ExpiresAt.IsZero() {
		authPrintln("Token %s", formatExpiryWithDirection(token.ExpiresAt))
	}
	return nil
}
