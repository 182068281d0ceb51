package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recordingCmd = &cobra.Command{
	Use:   "recording",
	Short: "Control the recording session",
}

var recordingFormat string

var recordingStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"format": recordingFormat}
		if err := cli.Call(cmd.Context(), "start_recording", params, nil); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
		fmt.Println("recording started")
		return nil
	},
}

var recordingStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.Call(cmd.Context(), "stop_recording", nil, nil); err != nil {
			return fmt.Errorf("stop recording: %w", err)
		}
		fmt.Println("recording stopped")
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Save or load the full GUI/acquisition session",
}

var sessionSaveCmd = &cobra.Command{
	Use:   "save <path>",
	Short: "Save the current session to path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"path": args[0], "gui_state": map[string]any{}}
		if err := cli.Call(cmd.Context(), "save_session", params, nil); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Printf("session saved to %s\n", args[0])
		return nil
	},
}

var sessionLoadCmd = &cobra.Command{
	Use:   "load <path>",
	Short: "Load a session from path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"path": args[0]}
		if err := cli.Call(cmd.Context(), "load_session", params, nil); err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		fmt.Printf("session loaded from %s\n", args[0])
		return nil
	},
}

func init() {
	recordingStartCmd.Flags().StringVar(&recordingFormat, "format", "", "storage format override for this recording (empty = daemon default)")
	recordingCmd.AddCommand(recordingStartCmd, recordingStopCmd)
	sessionCmd.AddCommand(sessionSaveCmd, sessionLoadCmd)
	rootCmd.AddCommand(recordingCmd, sessionCmd)
}
