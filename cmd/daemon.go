package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/daq-core/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daq-core daemon in the foreground",
	Long: `Run the daq-core daemon process in the foreground.

The daemon loads the configuration document, spawns every instrument it
names, and serves the local control channel (Unix Domain Socket,
JSON-RPC 2.0) plus, if --grpc-addr is set, a gRPC health endpoint for a
client-side reconnect manager to poll.

SIGTERM/SIGINT trigger graceful shutdown; SIGHUP reloads configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	d, err := daemon.New(configFile, socketPath, pidFile, grpcAddr)
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return d.Run()
}
