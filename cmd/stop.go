package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/daq-core/internal/command"
	"icc.tech/daq-core/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daq-core daemon",
	Long: `Stop the daq-core daemon gracefully.

Tries a daemon_shutdown RPC over the control socket first; if the
socket is unreachable, falls back to signalling the PID recorded in
the PID file directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := command.Dial(socketPath, rpcTimeout)
		if err == nil {
			defer c.Close()
			if rpcErr := c.Call(context.Background(), "daemon_shutdown", nil, nil); rpcErr == nil {
				fmt.Println("daq-core daemon shutdown requested")
				return nil
			}
		}
		if err := daemon.StopRunning(socketPath, pidFile); err != nil {
			return fmt.Errorf("stop daemon: %w", err)
		}
		fmt.Println("daq-core daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
