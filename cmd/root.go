// Package cmd implements the daq CLI, a thin client over the daemon's
// Unix Domain Socket JSON-RPC control channel.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/daq-core/internal/command"
)

var (
	configFile string
	socketPath string
	pidFile    string
	grpcAddr   string
	rpcTimeout time.Duration

	cli *command.Client
)

var rootCmd = &cobra.Command{
	Use:   "daq",
	Short: "daq controls the daq-core instrument acquisition daemon",
	Long: `daq is the command-line interface to daq-core, a control plane for
scientific instrument data acquisition: cameras, motorized stages, power
meters, tunable lasers and analog I/O.

It talks to a running daemon over a local Unix Domain Socket using
newline-delimited JSON-RPC 2.0. Run "daq daemon" to start the daemon in
the foreground, or "daq start" to launch it in the background.`,
	Version:           "0.1.0",
	PersistentPreRunE: connectClient,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { closeClient() },
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/daq-core/config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/tmp/daqd.sock", "daemon control socket path")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid-file", "/tmp/daqd.pid", "daemon PID file path")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", "", "address for the daemon's gRPC health endpoint (disabled if empty)")
	rootCmd.PersistentFlags().DurationVar(&rpcTimeout, "timeout", 10*time.Second, "control channel request timeout")
}

// commandsNeedingNoClient skips PersistentPreRunE's dial attempt for
// subcommands that manage the daemon process itself rather than talk to
// a running one.
var commandsNeedingNoClient = map[string]bool{
	"daemon":  true,
	"start":   true,
	"stop":    true,
	"version": true,
	"help":    true,
}

func connectClient(cmd *cobra.Command, args []string) error {
	if commandsNeedingNoClient[cmd.Name()] {
		return nil
	}
	c, err := command.Dial(socketPath, rpcTimeout)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is it running? try \"daq start\")", socketPath, err)
	}
	cli = c
	return nil
}

func closeClient() {
	if cli != nil {
		cli.Close()
	}
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
