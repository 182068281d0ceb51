package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var instrumentCmd = &cobra.Command{
	Use:     "instrument",
	Aliases: []string{"inst"},
	Short:   "Manage instruments on the running daemon",
}

var instrumentConfigFile string

var instrumentSpawnCmd = &cobra.Command{
	Use:   "spawn <id> <driver-type>",
	Short: "Spawn a new instrument at runtime",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := map[string]any{}
		if instrumentConfigFile != "" {
			data, err := os.ReadFile(instrumentConfigFile)
			if err != nil {
				return fmt.Errorf("read settings file: %w", err)
			}
			if err := json.Unmarshal(data, &settings); err != nil {
				return fmt.Errorf("parse settings file: %w", err)
			}
		}
		params := map[string]any{"id": args[0], "driver_type": args[1], "config": settings}
		if err := cli.Call(cmd.Context(), "spawn_instrument", params, nil); err != nil {
			return fmt.Errorf("spawn instrument: %w", err)
		}
		fmt.Printf("instrument %q spawned\n", args[0])
		return nil
	},
}

var instrumentStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a running instrument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"id": args[0]}
		if err := cli.Call(cmd.Context(), "stop_instrument", params, nil); err != nil {
			return fmt.Errorf("stop instrument: %w", err)
		}
		fmt.Printf("instrument %q stopped\n", args[0])
		return nil
	},
}

var instrumentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every instrument the daemon owns",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result any
		if err := cli.Call(cmd.Context(), "list_instruments", nil, &result); err != nil {
			return fmt.Errorf("list instruments: %w", err)
		}
		return printJSON(result)
	},
}

var instrumentChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List <id>.<capability> names for every spawned instrument (not measurement channel names)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result any
		if err := cli.Call(cmd.Context(), "list_channels", nil, &result); err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		return printJSON(result)
	},
}

var instrumentSetParamCmd = &cobra.Command{
	Use:   "set-param <id> <name> <value>",
	Short: "Set a parameter on an instrument",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"id": args[0], "name": args[1], "value": parseScalar(args[2])}
		if err := cli.Call(cmd.Context(), "set_parameter", params, nil); err != nil {
			return fmt.Errorf("set parameter: %w", err)
		}
		fmt.Println("parameter set")
		return nil
	},
}

var instrumentSendCmdFlag int

var instrumentSendCmd = &cobra.Command{
	Use:   "send <id> <command-name>",
	Short: "Send a named command to an instrument (use --kind to select the command kind)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"id": args[0], "kind": instrumentSendCmdFlag, "name": args[1]}
		if err := cli.Call(cmd.Context(), "send_command", params, nil); err != nil {
			return fmt.Errorf("send command: %w", err)
		}
		fmt.Println("command sent")
		return nil
	},
}

var instrumentRemoveForce bool

var instrumentRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a dynamically-added instrument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"id": args[0], "force": instrumentRemoveForce}
		if err := cli.Call(cmd.Context(), "remove_instrument", params, nil); err != nil {
			return fmt.Errorf("remove instrument: %w", err)
		}
		fmt.Printf("instrument %q removed\n", args[0])
		return nil
	},
}

func init() {
	instrumentSpawnCmd.Flags().StringVarP(&instrumentConfigFile, "settings", "f", "", "JSON file of driver-specific settings")
	instrumentSendCmd.Flags().IntVar(&instrumentSendCmdFlag, "kind", 7, "CommandKind value (default 7 = execute)")
	instrumentRemoveCmd.Flags().BoolVar(&instrumentRemoveForce, "force", false, "remove even if a module still depends on the instrument")

	instrumentCmd.AddCommand(instrumentSpawnCmd, instrumentStopCmd, instrumentListCmd,
		instrumentChannelsCmd, instrumentSetParamCmd, instrumentSendCmd, instrumentRemoveCmd)
	rootCmd.AddCommand(instrumentCmd)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseScalar best-effort interprets a CLI string argument as bool,
// float, or string, so callers can write set-param commands without
// having to quote JSON on the shell.
func parseScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
