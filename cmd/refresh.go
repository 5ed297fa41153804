package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/logging"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch fresh price catalogs from every provider",
	Long:  `Bypass the cache, fetch the price catalog of every enabled provider live, and store the results.`,
	Run: func(cmd *cobra.Command, args []string) {
		engine, _, err := buildEngine(cmd.Context())
		if err != nil {
			logging.Logger().Fatal("Failed to build engine", zap.Error(err))
		}

		counts, err := engine.Refresh(cmd.Context())
		if err != nil {
			logging.Logger().Fatal("Refresh failed", zap.Error(err))
		}

		for provider, count := range counts {
			fmt.Printf("%s: %d price entries\n", provider, count)
		}
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
