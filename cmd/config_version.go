package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Snapshot, list, compare, and roll back configuration versions",
}

var configSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a snapshot of the current instrument configuration (identified by a generated version ID)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var version string
		if err := cli.Call(cmd.Context(), "create_config_snapshot", nil, &version); err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		fmt.Printf("snapshot %s created\n", version)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration version IDs, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var versions []string
		if err := cli.Call(cmd.Context(), "list_config_versions", nil, &versions); err != nil {
			return fmt.Errorf("list versions: %w", err)
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	},
}

var configRollbackCmd = &cobra.Command{
	Use:   "rollback <version>",
	Short: "Roll every instrument back to a prior configuration version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"version": args[0]}
		if err := cli.Call(cmd.Context(), "rollback_config_version", params, nil); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Printf("rolled back to %s\n", args[0])
		return nil
	},
}

var configDiffCmd = &cobra.Command{
	Use:   "diff <version-a> <version-b>",
	Short: "Show added/removed/changed instruments between two versions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"a": args[0], "b": args[1]}
		var diff string
		if err := cli.Call(cmd.Context(), "compare_config_versions", params, &diff); err != nil {
			return fmt.Errorf("compare versions: %w", err)
		}
		fmt.Println(diff)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSnapshotCmd, configListCmd, configRollbackCmd, configDiffCmd)
	rootCmd.AddCommand(configCmd)
}
