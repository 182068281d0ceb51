package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the daemon's internal runtime metrics snapshot",
	Long: `Print the number of running instruments and, for each distributor
subscriber, its delivered/dropped/lagged counters, queue depth,
saturation percentage, saturation warning flag, and last drop time.

This is distinct from the Prometheus /metrics HTTP endpoint, which
exports related counters and gauges in Prometheus exposition format
for scraping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var result any
		if err := cli.Call(cmd.Context(), "get_metrics", nil, &result); err != nil {
			return fmt.Errorf("get metrics: %w", err)
		}
		return printJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
