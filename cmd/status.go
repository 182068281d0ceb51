package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and instrument list",
	RunE: func(cmd *cobra.Command, args []string) error {
		var ping map[string]any
		if err := cli.Call(cmd.Context(), "ping", nil, &ping); err != nil {
			exitWithError("daemon is not reachable", err)
		}
		fmt.Printf("node: %v\n", ping["node_id"])

		var instruments any
		if err := cli.Call(cmd.Context(), "list_instruments", nil, &instruments); err != nil {
			return fmt.Errorf("list instruments: %w", err)
		}
		out, err := json.MarshalIndent(instruments, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
