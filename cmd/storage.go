package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect or change the default storage format",
}

var storageGetCmd = &cobra.Command{
	Use:   "get-format",
	Short: "Print the current default storage format",
	RunE: func(cmd *cobra.Command, args []string) error {
		var format string
		if err := cli.Call(cmd.Context(), "get_storage_format", nil, &format); err != nil {
			return fmt.Errorf("get storage format: %w", err)
		}
		fmt.Println(format)
		return nil
	},
}

var storageSetCmd = &cobra.Command{
	Use:   "set-format <format>",
	Short: "Change the default storage format (start-recording writes only csv or console)",
	Long: `Change the default storage format.

Any name is stored, but start-recording writes only the "csv" and
"console" formats; any other name (including hdf5-like, arrow-like and
kafka) makes start-recording fail with an unsupported-format error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"format": args[0]}
		if err := cli.Call(cmd.Context(), "set_storage_format", params, nil); err != nil {
			return fmt.Errorf("set storage format: %w", err)
		}
		fmt.Printf("storage format set to %s\n", args[0])
		return nil
	},
}

func init() {
	storageCmd.AddCommand(storageGetCmd, storageSetCmd)
	rootCmd.AddCommand(storageCmd)
}
