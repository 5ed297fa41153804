package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/logging"
)

var regionsIP string

// regionsCmd represents the regions command
var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List known regions by estimated latency",
	Long:  `Estimate the network latency from the given IP address to every known provider region, nearest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		engine, _, err := buildEngine(cmd.Context())
		if err != nil {
			logging.Logger().Fatal("Failed to build engine", zap.Error(err))
		}

		latencies, loc, err := engine.RegionLatencies(cmd.Context(), regionsIP)
		if err != nil {
			logging.Logger().Fatal("Failed to estimate latencies", zap.Error(err))
		}

		fmt.Printf("User location: %s, %s (%.4f, %.4f)\n\n",
			loc.City, loc.Country, loc.Lat, loc.Lon)
		fmt.Printf("%-10s %-22s %-28s %10s\n", "Provider", "Region", "Location", "Latency")
		for _, rl := range latencies {
			fmt.Printf("%-10s %-22s %-28s %8.0fms\n",
				rl.Provider, rl.Region, rl.DisplayName, rl.LatencyMs)
		}
	},
}

func init() {
	rootCmd.AddCommand(regionsCmd)

	regionsCmd.Flags().StringVar(&regionsIP, "ip", "", "User IP address (defaults to a local lookup)")
}
