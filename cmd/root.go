package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/config"
	"vmbroker/internal/credentials"
	"vmbroker/internal/latency"
	"vmbroker/internal/logging"
	"vmbroker/internal/pricing"
	"vmbroker/internal/pricing/pricecache"
	"vmbroker/internal/selector"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmbroker",
	Short: "Multi-cloud VM allocation and lifecycle engine",
	Long: `vmbroker finds the optimal VM offering across AWS, GCP, and DigitalOcean
by price and estimated latency, and manages the lifecycle of provisioned
instances. All settings are read from the config file.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires the selector engine from the config file and stored
// credentials. Providers without usable credentials are skipped with a
// warning; at least one must remain.
func buildEngine(ctx context.Context) (*selector.Engine, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	store := credentials.NewStore(cfg.CredentialsDir)
	var fetchers []pricing.Fetcher

	if cfg.AWS.Enabled {
		if creds, err := store.LoadAWS(); err != nil {
			logging.Logger().Warn("AWS disabled", zap.Error(err))
		} else {
			fetcher, err := pricing.NewAWSFetcher(ctx, *creds, cfg.AWS.Regions)
			if err != nil {
				return nil, nil, err
			}
			fetchers = append(fetchers, fetcher)
		}
	}

	if cfg.GCP.Enabled {
		if creds, err := store.LoadGCP(); err != nil {
			logging.Logger().Warn("GCP disabled", zap.Error(err))
		} else {
			if cfg.GCP.ProjectID != "" {
				creds.ProjectID = cfg.GCP.ProjectID
			}
			fetcher, err := pricing.NewGCPFetcher(ctx, *creds, cfg.GCP.Zones)
			if err != nil {
				return nil, nil, err
			}
			fetchers = append(fetchers, fetcher)
		}
	}

	if cfg.DigitalOcean.Enabled {
		if creds, err := store.LoadDigitalOcean(); err != nil {
			logging.Logger().Warn("DigitalOcean disabled", zap.Error(err))
		} else {
			fetchers = append(fetchers, pricing.NewDOFetcher(*creds))
		}
	}

	if len(fetchers) == 0 {
		return nil, nil, fmt.Errorf("no provider has usable credentials in %s", cfg.CredentialsDir)
	}

	engine := selector.NewEngine(selector.Deps{
		Fetchers:      fetchers,
		Cache:         pricecache.New(cfg.CacheDir),
		Resolver:      latency.NewIPAPIResolver(),
		CacheMaxAge:   time.Duration(cfg.CacheMaxAge),
		FetchTimeout:  time.Duration(cfg.FetchTimeout),
		MaxConcurrent: cfg.MaxConcurrent,
	})
	return engine, cfg, nil
}
