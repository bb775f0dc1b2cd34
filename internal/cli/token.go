package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show admin API URL with access token",
	Long: `Show the admin API URL with the token of the running server.

Use this when you've scrolled past the startup message.

Example:
  pagesplit token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(getTokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: pagesplit serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: pagesplit serve")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Admin API: http://localhost:%d/api/admin/experiments?token=%s\n", cfg.Port, token)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Or send it as a header: Authorization: Bearer "+token)
	return nil
}
