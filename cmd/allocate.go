package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/catalog"
	"vmbroker/internal/logging"
)

var (
	allocateVCPU         int
	allocateRAM          float64
	allocateGPUType      string
	allocateGPUCount     int
	allocateVRAM         float64
	allocateStorageType  string
	allocateStorageGB    float64
	allocatePricingModel string
	allocatePreference   string
	allocateIP           string
	allocateProvider     string
	allocateRegion       string
	allocateZone         string
	allocateLimit        int
)

// allocateCmd represents the allocate command
var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Find the optimal VM offerings for a resource requirement",
	Long: `Query every enabled provider for offerings that satisfy the given minimum
hardware requirements and rank them by the chosen preference.`,
	Run: func(cmd *cobra.Command, args []string) {
		req := catalog.ResourceRequirement{
			VCPU:          allocateVCPU,
			RAMGB:         allocateRAM,
			GPUType:       allocateGPUType,
			GPUCount:      allocateGPUCount,
			VRAMGB:        allocateVRAM,
			StorageType:   allocateStorageType,
			StorageGB:     allocateStorageGB,
			PricingModel:  catalog.PricingModel(allocatePricingModel),
			Preference:    catalog.Preference(allocatePreference),
			UserIPAddress: allocateIP,
			Provider:      catalog.Provider(allocateProvider),
			Region:        allocateRegion,
			Zone:          allocateZone,
		}

		runAllocate(cmd.Context(), req)
	},
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().IntVar(&allocateVCPU, "vcpu", 1, "Minimum vCPU count")
	allocateCmd.Flags().Float64Var(&allocateRAM, "ram", 1, "Minimum RAM in GB")
	allocateCmd.Flags().StringVar(&allocateGPUType, "gpu-type", "", "Required GPU model (e.g. t4, a100)")
	allocateCmd.Flags().IntVar(&allocateGPUCount, "gpu-count", 0, "Minimum GPU count")
	allocateCmd.Flags().Float64Var(&allocateVRAM, "vram", 0, "Minimum total VRAM in GB")
	allocateCmd.Flags().StringVar(&allocateStorageType, "storage-type", "", "Storage class (ssd, balanced, hdd)")
	allocateCmd.Flags().Float64Var(&allocateStorageGB, "storage", 0, "Minimum storage in GB")
	allocateCmd.Flags().StringVar(&allocatePricingModel, "pricing-model", string(catalog.PricingOnDemand), "Pricing model (OnDemand, Spot)")
	allocateCmd.Flags().StringVar(&allocatePreference, "prefer", string(catalog.PreferBalanced), "Ranking preference (price, latency, balanced)")
	allocateCmd.Flags().StringVar(&allocateIP, "ip", "", "User IP address for latency estimation")
	allocateCmd.Flags().StringVar(&allocateProvider, "provider", "", "Restrict to one provider (AWS, GCP, DO)")
	allocateCmd.Flags().StringVar(&allocateRegion, "region", "", "Restrict to one region")
	allocateCmd.Flags().StringVar(&allocateZone, "zone", "", "Restrict to one zone")
	allocateCmd.Flags().IntVar(&allocateLimit, "limit", 10, "Maximum number of candidates to print")
}

func runAllocate(ctx context.Context, req catalog.ResourceRequirement) {
	engine, _, err := buildEngine(ctx)
	if err != nil {
		logging.Logger().Fatal("Failed to build engine", zap.Error(err))
	}

	result, err := engine.FindOptimalInstance(ctx, req)
	if err != nil {
		logging.Logger().Fatal("Allocation query failed", zap.Error(err))
	}

	fmt.Printf("User location: %s, %s (%.4f, %.4f)\n",
		result.UserLocation.City, result.UserLocation.Country,
		result.UserLocation.Lat, result.UserLocation.Lon)

	for provider, message := range result.ProviderErrors {
		fmt.Printf("Warning: %s unavailable: %s\n", provider, message)
	}

	if len(result.Candidates) == 0 {
		fmt.Println("No offering satisfies the given requirements.")
		return
	}

	fmt.Printf("\n%-4s %-10s %-20s %-22s %6s %8s %12s %10s %8s\n",
		"#", "Provider", "Instance Type", "Region", "vCPU", "RAM GB", "$/hour", "Latency", "Score")
	for i, c := range result.Candidates {
		if allocateLimit > 0 && i >= allocateLimit {
			break
		}
		fmt.Printf("%-4d %-10s %-20s %-22s %6d %8.1f %12.4f %8.0fms %8.3f\n",
			i+1, c.Provider, c.InstanceType, c.Region, c.VCPU, c.RAMGB,
			c.PricePerHour, c.LatencyMs, c.Score)
		if c.GPU != nil {
			fmt.Printf("     gpu: %dx %s (%.0f GB VRAM)\n", c.GPU.Count, c.GPU.Type, c.GPU.VRAMGB)
		}
	}
}
