package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/daq-core/internal/daemon"
)

var foreground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daq-core daemon",
	Long: `Start the daq-core daemon.

By default it is launched detached in the background, re-executing this
same binary's "daemon" subcommand in a new session (setsid). Pass --foreground to
run it in the current process instead (useful under systemd or when
debugging).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if foreground {
			return runDaemon()
		}
		if err := daemon.EnsureRunning(configFile, socketPath, pidFile); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		fmt.Println("daq-core daemon started")
		return nil
	},
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the current process instead of detaching")
	rootCmd.AddCommand(startCmd)
}
