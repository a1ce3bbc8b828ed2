package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logoutAll bool
	logoutYes bool
)

var logoutCmd = &cobra.Command{
	Use:   "logout [server]",
	Short: "Remove stored tokens",
	Long: `Logout deletes the stored token for a server, or every stored token
with --all. Deleting a token does not revoke it at the authorization
server; it only removes the local copy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove tokens for all servers")
	logoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	if logoutAll {
		if len(args) > 0 {
			return fmt.Errorf("pass either a server argument or --all, not both")
		}

		manager, err := newManager(&cfg, &serverTarget{})
		if err != nil {
			return err
		}

		count := len(manager.List())
		if count == 0 {
			authPrintln("No stored tokens.")
			return nil
		}

		if !logoutYes && !confirm(fmt.Sprintf("Remove tokens for %d server(s)?", count)) {
			authPrintln("Aborted.")
			return nil
		}

		if err := manager.LogoutAll(); err != nil {
			return err
		}
		authPrintln("Removed tokens for %d server(s).", count)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("no server specified; pass a server name or URL, or use --all")
	}

	target, err := resolveTarget(&cfg, args[0])
	if err != nil {
		return err
	}

	manager, err := newManager(&cfg, target)
	if err != nil {
		return err
	}

	if err := manager.Logout(target.URL); err != nil {
		return err
	}
	authPrintln("Logged out of %s", target.URL)
	return nil
}

// confirm asks a y/N question on stderr and reads the answer from stdin.
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
