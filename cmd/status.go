package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored tokens and their state",
	Long: `Status lists every server with a stored token, the issuer that minted
it, its expiry, and whether a refresh token is available.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	manager, err := newManager(&cfg, &serverTarget{})
	if err != nil {
		return err
	}

	tokens := manager.List()
	if len(tokens) == 0 {
		authPrintln("No stored tokens. Run %s to authenticate.", text.Bold.Sprint("mcpauth login <server>"))
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Server", "Issuer", "Expiry", "Refresh"})

	for _, stored := range tokens {
		issuer := stored.IssuerURL
		if issuer == "" {
			issuer = text.FgHiBlack.Sprint("unknown")
		}
		refresh := text.FgHiBlack.Sprint("no")
		if stored.RefreshToken != "" {
			refresh = text.FgGreen.Sprint("yes")
		}
		tw.AppendRow(table.Row{
			stored.ServerURL,
			issuer,
			formatExpiryWithDirection(stored.Expiry),
			refresh,
		})
	}

	tw.Render()
	if !quiet {
		fmt.Fprintf(os.Stdout, "\nToken storage: %s\n", manager.Store().StorageDir())
	}
	return nil
}
