package pricing

import (
	"math"
	"strings"

	"vmbroker/internal/catalog"
)

// The rate tables below are published-list approximations used where a
// provider API does not return a price directly: GCP machine types priced
// per component, GPU attachments, storage estimates, and spot discounts.
// Live API prices always win when available.

// gcpSeriesRates maps a GCP machine series to per-vCPU-hour and
// per-GB-RAM-hour USD rates
var gcpSeriesRates = map[string]struct{ cpuRate, ramRate float64 }{
	"e2":  {0.021, 0.0028},
	"n1":  {0.031, 0.0042},
	"n2":  {0.031, 0.0042},
	"n2d": {0.028, 0.0038},
	"c2":  {0.043, 0.0043},
	"c3":  {0.048, 0.0048},
	"a2":  {0.056, 0.0056},
	"g2":  {0.065, 0.0065},
	"m1":  {0.043, 0.0058},
	"m2":  {0.050, 0.0068},
}

// Rates for machine series not in the table
const (
	gcpDefaultCPURate = 0.035
	gcpDefaultRAMRate = 0.0045
)

// gpuHourlyRates maps a GPU model to a per-GPU hourly USD rate
var gpuHourlyRates = map[string]float64{
	"nvidia-tesla-t4":   0.35,
	"nvidia-tesla-v100": 2.48,
	"nvidia-tesla-a100": 3.20,
	"nvidia-a10g":       1.006,
	"nvidia-l4":         0.726,
	"nvidia-h100":       6.98,
}

// gpuVRAMGB estimates VRAM per GPU model when the API omits it. Models with
// multiple memory configurations carry their most common size.
var gpuVRAMGB = []struct {
	match  string
	vramGB float64
}{
	{"h100", 80},
	{"a100", 40},
	{"a10g", 24},
	{"v100", 16},
	{"p100", 16},
	{"k80", 12},
	{"l4", 24},
	{"p4", 8},
	{"t4", 16},
}

// EstimateVRAM returns the estimated per-GPU VRAM in GB for a GPU model
// name, or 0 if the model is unknown
func EstimateVRAM(gpuType string) float64 {
	if gpuType == "" {
		return 0
	}
	name := strings.ToLower(gpuType)
	for _, g := range gpuVRAMGB {
		if strings.Contains(name, g.match) {
			return g.vramGB
		}
	}
	return 0
}

// awsFamilyGPUs maps AWS GPU instance family prefixes to the GPU model they
// carry. Longer prefixes are matched first.
var awsFamilyGPUs = []struct {
	prefix  string
	gpuType string
}{
	{"p5", "nvidia-h100"},
	{"p4", "nvidia-tesla-a100"},
	{"p3", "nvidia-tesla-v100"},
	{"p2", "nvidia-tesla-k80"},
	{"g6", "nvidia-l4"},
	{"g5g", "nvidia-t4g"},
	{"g5", "nvidia-a10g"},
	{"g4dn", "nvidia-tesla-t4"},
	{"g4ad", "amd-radeon-pro-v520"},
	{"g3", "nvidia-tesla-m60"},
}

// AWSFamilyGPUType infers the GPU model from an AWS instance type name,
// returning "" for non-GPU families
func AWSFamilyGPUType(instanceType string) string {
	name := strings.ToLower(instanceType)
	for _, f := range awsFamilyGPUs {
		if strings.HasPrefix(name, f.prefix) {
			return f.gpuType
		}
	}
	return ""
}

// storageMonthlyRates holds $/GB-month rates per provider and storage class.
// These are list-price placeholders; callers convert to hourly with a
// 730-hour month.
var storageMonthlyRates = map[catalog.Provider]map[string]float64{
	catalog.ProviderAWS: {
		"ssd":      0.10, // gp3
		"balanced": 0.08,
		"hdd":      0.045, // st1
	},
	catalog.ProviderGCP: {
		"ssd":      0.17, // pd-ssd
		"balanced": 0.10, // pd-balanced
		"hdd":      0.04, // pd-standard
	},
	catalog.ProviderDigitalOcean: {
		"ssd": 0.10, // volumes are SSD-only
	},
}

const hoursPerMonth = 730

// StorageHourlyCost estimates the hourly cost of attaching sizeGB of the
// given storage class. Unknown classes fall back to the provider's SSD rate.
func StorageHourlyCost(provider catalog.Provider, storageType string, sizeGB float64) float64 {
	if sizeGB <= 0 {
		return 0
	}
	rates, ok := storageMonthlyRates[provider]
	if !ok {
		return 0
	}
	rate, ok := rates[strings.ToLower(storageType)]
	if !ok {
		rate = rates["ssd"]
	}
	return roundPrice(sizeGB * rate / hoursPerMonth)
}

// spotDiscounts maps normalized region codes to the fraction of on-demand
// price a spot instance typically costs
var spotDiscounts = map[string]float64{
	"us-central1":          0.75,
	"us-east1":             0.72,
	"us-east2":             0.75,
	"us-west1":             0.75,
	"us-west2":             0.70,
	"europe-west1":         0.70,
	"europe-west2":         0.72,
	"europe-central1":      0.65,
	"asia-east1":           0.70,
	"asia-northeast1":      0.70,
	"asia-southeast1":      0.78,
	"australia-southeast1": 0.72,
}

const defaultSpotDiscount = 0.75

// SpotPrice derives a spot price from an on-demand price using regional
// discount factors
func SpotPrice(region string, onDemand float64) float64 {
	discount, ok := spotDiscounts[region]
	if !ok {
		discount = defaultSpotDiscount
	}
	return roundPrice(onDemand * discount)
}

// GCPMachinePrice estimates the hourly on-demand price of a GCP machine
// type from its series and hardware shape
func GCPMachinePrice(series string, vcpu int, ramGB float64) float64 {
	rates, ok := gcpSeriesRates[series]
	if !ok {
		rates = struct{ cpuRate, ramRate float64 }{gcpDefaultCPURate, gcpDefaultRAMRate}
	}
	return roundPrice(float64(vcpu)*rates.cpuRate + ramGB*rates.ramRate)
}

// GPUHourlyRate returns the per-GPU hourly rate for a GPU model, or 0 if
// the model has no published rate
func GPUHourlyRate(gpuType string) float64 {
	if rate, ok := gpuHourlyRates[strings.ToLower(gpuType)]; ok {
		return rate
	}
	return 0
}

func roundPrice(p float64) float64 {
	return math.Round(p*10000) / 10000
}
