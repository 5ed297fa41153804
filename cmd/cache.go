package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/config"
	"vmbroker/internal/logging"
	"vmbroker/internal/pricing/pricecache"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate cached price catalogs",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached catalog records",
	Run: func(cmd *cobra.Command, args []string) {
		records, err := openCache().List()
		if err != nil {
			logging.Logger().Fatal("Failed to list cache", zap.Error(err))
		}
		if len(records) == 0 {
			fmt.Println("Cache is empty.")
			return
		}

		fmt.Printf("%-40s %-25s %12s %10s\n", "Key", "Fetched", "Age", "Size")
		for _, r := range records {
			fmt.Printf("%-40s %-25s %12s %9dB\n",
				r.Key, r.Timestamp.Format("2006-01-02 15:04:05 MST"), r.Age.Round(time.Second), r.SizeBytes)
		}
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [key]",
	Short: "Remove one cached record, or all of them",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cache := openCache()

		if len(args) == 0 {
			if err := cache.InvalidateAll(); err != nil {
				logging.Logger().Fatal("Failed to invalidate cache", zap.Error(err))
			}
			fmt.Println("Cache cleared.")
			return
		}

		if err := cache.Invalidate(args[0]); err != nil {
			logging.Logger().Fatal("Failed to invalidate cache key", zap.Error(err))
		}
		fmt.Printf("Invalidated %s.\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

func openCache() *pricecache.Cache {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}
	return pricecache.New(cfg.CacheDir)
}
