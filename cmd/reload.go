package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's configuration document",
	Long: `Send a daemon_reload RPC over the control socket.

Only hot-reloadable fields (currently logging) are applied in place;
fields that require a restart are logged by the daemon as a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.Call(cmd.Context(), "daemon_reload", nil, nil); err != nil {
			return fmt.Errorf("reload: %w", err)
		}
		fmt.Println("configuration reloaded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
