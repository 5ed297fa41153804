package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/logging"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify provider credentials and connectivity",
	Long:  `Run a small sample fetch against every enabled provider to verify that credentials work and the pricing APIs are reachable, without paying for a full catalog fetch.`,
	Run: func(cmd *cobra.Command, args []string) {
		engine, _, err := buildEngine(cmd.Context())
		if err != nil {
			logging.Logger().Fatal("Failed to build engine", zap.Error(err))
		}

		failures := 0
		for provider, result := range engine.CheckProviders(cmd.Context()) {
			if result.Err != nil {
				failures++
				fmt.Printf("%s: FAILED (%v)\n", provider, result.Err)
				continue
			}
			fmt.Printf("%s: ok (%d offerings sampled)\n", provider, result.SampleSize)
		}

		if failures > 0 {
			logging.Logger().Fatal("Provider check failed", zap.Int("failures", failures))
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
