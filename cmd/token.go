package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tokenEndpoint string

var tokenCmd = &cobra.Command{
	Use:   "token [server]",
	Short: "Print a valid access token for a server",
	Long: `Token prints a usable access token for the given server to stdout, for
use in scripts (e.g. curl -H "Authorization: Bearer $(mcpauth token my-server)").

Only stored credentials are used: a cached token is printed as-is, and an
expired one is refreshed when a refresh token is available. Token never
starts an interactive flow; when a login is required it exits with code 2.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEndpoint, "endpoint", "", "Server URL (alternative to the positional argument)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	arg := tokenEndpoint
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

	token, err := manager.ObtainStoredToken(cmd.Context(), target.URL)
	if err != nil {
		return err
	}

	// The token itself always goes to stdout, regardless of --quiet.
	fmt.Fprintln(os.Stdout, token.AccessToken)
	return nil
}
