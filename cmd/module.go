package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage processor module instances (run plan DAG nodes)",
}

var moduleConfigFile string

var moduleSpawnCmd = &cobra.Command{
	Use:   "spawn <id> <kind>",
	Short: "Spawn a processor module",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := map[string]any{}
		if moduleConfigFile != "" {
			data, err := os.ReadFile(moduleConfigFile)
			if err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
			if err := json.Unmarshal(data, &config); err != nil {
				return fmt.Errorf("parse config file: %w", err)
			}
		}
		params := map[string]any{"id": args[0], "kind": args[1], "config": config}
		if err := cli.Call(cmd.Context(), "spawn_module", params, nil); err != nil {
			return fmt.Errorf("spawn module: %w", err)
		}
		fmt.Printf("module %q spawned\n", args[0])
		return nil
	},
}

var moduleStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a spawned module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"id": args[0]}
		if err := cli.Call(cmd.Context(), "start_module", params, nil); err != nil {
			return fmt.Errorf("start module: %w", err)
		}
		fmt.Printf("module %q started\n", args[0])
		return nil
	},
}

var moduleStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a running module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"id": args[0]}
		if err := cli.Call(cmd.Context(), "stop_module", params, nil); err != nil {
			return fmt.Errorf("stop module: %w", err)
		}
		fmt.Printf("module %q stopped\n", args[0])
		return nil
	},
}

var moduleAssignCmd = &cobra.Command{
	Use:   "assign <module-id> <role> <instrument-id>",
	Short: "Assign an instrument to a module's named role",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"module": args[0], "role": args[1], "instrument": args[2]}
		if err := cli.Call(cmd.Context(), "assign_instrument_to_module", params, nil); err != nil {
			return fmt.Errorf("assign instrument to module: %w", err)
		}
		fmt.Printf("instrument %q assigned to %s.%s\n", args[2], args[0], args[1])
		return nil
	},
}

func init() {
	moduleSpawnCmd.Flags().StringVarP(&moduleConfigFile, "config", "f", "", "JSON file of module-specific configuration")
	moduleCmd.AddCommand(moduleSpawnCmd, moduleStartCmd, moduleStopCmd, moduleAssignCmd)
	rootCmd.AddCommand(moduleCmd)
}
