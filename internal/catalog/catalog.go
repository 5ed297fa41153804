package catalog

import (
	"strings"
	"time"
)

// Provider identifies a cloud provider
type Provider string

const (
	ProviderAWS          Provider = "AWS"
	ProviderGCP          Provider = "GCP"
	ProviderDigitalOcean Provider = "DO"
)

// PricingModel identifies how an offer is billed
type PricingModel string

const (
	PricingOnDemand PricingModel = "OnDemand"
	PricingSpot     PricingModel = "Spot"
	PricingReserved PricingModel = "Reserved"
)

// Category is a coarse classification used only for display grouping.
// It has no effect on ranking.
type Category string

const (
	CategoryGeneralPurpose   Category = "generalPurpose"
	CategoryComputeOptimized Category = "computeOptimized"
	CategoryMemoryOptimized  Category = "memoryOptimized"
	CategoryStorageOptimized Category = "storageOptimized"
	CategoryGPU              Category = "gpus"
	CategoryOther            Category = "other"
)

// GPUSpec describes the GPUs attached to an offering
type GPUSpec struct {
	Type   string  `json:"type"`
	Count  int     `json:"count"`
	VRAMGB float64 `json:"vramGB"`
}

// StorageSpec describes the local storage attached to an offering
type StorageSpec struct {
	Type   string  `json:"type"`
	SizeGB float64 `json:"sizeGB"`
}

// PriceEntry is one priced VM offering normalized across providers.
// Entries are immutable once fetched; a re-fetch supersedes, never mutates.
type PriceEntry struct {
	Provider     Provider     `json:"provider"`
	InstanceType string       `json:"instanceType"`
	Region       string       `json:"region"`
	Zone         string       `json:"zone,omitempty"`
	VCPU         int          `json:"vcpu"`
	RAMGB        float64      `json:"ramGB"`
	GPU          *GPUSpec     `json:"gpu,omitempty"`
	Storage      *StorageSpec `json:"storage,omitempty"`
	PricePerHour float64      `json:"pricePerHour"`
	Currency     string       `json:"currency"`
	PricingModel PricingModel `json:"pricingModel"`
	FetchedAt    time.Time    `json:"fetchedAt"`
}

// RegionLatency is the estimated latency from a user location to a region.
// Derived per request, never persisted.
type RegionLatency struct {
	Provider    Provider `json:"provider"`
	Region      string   `json:"region"`
	DisplayName string   `json:"displayName"`
	LatencyMs   float64  `json:"latencyMs"`
}

// VMCandidate is a PriceEntry joined with the latency of its region, plus
// a ranking score and display category.
type VMCandidate struct {
	PriceEntry
	LatencyMs float64  `json:"latencyMs"`
	Score     float64  `json:"score"`
	Category  Category `json:"category"`
}

// Preference selects the ranking strategy for allocation
type Preference string

const (
	PreferPrice    Preference = "price"
	PreferLatency  Preference = "latency"
	PreferBalanced Preference = "balanced"
)

// ResourceRequirement is the caller's minimum hardware and preference
// specification. All hardware fields are minimums, not exact matches.
type ResourceRequirement struct {
	VCPU          int          `json:"vcpu"`
	RAMGB         float64      `json:"ramGB"`
	GPUType       string       `json:"gpuType,omitempty"`
	GPUCount      int          `json:"gpuCount,omitempty"`
	VRAMGB        float64      `json:"vramGB,omitempty"`
	StorageType   string       `json:"storageType,omitempty"`
	StorageGB     float64      `json:"storageGB,omitempty"`
	PricingModel  PricingModel `json:"pricingModel,omitempty"`
	Preference    Preference   `json:"preference,omitempty"`
	UserIPAddress string       `json:"userIpAddress"`

	// Optional post-filters, applied after hardware matching so that
	// "filtered out" is distinguishable from "nothing satisfies"
	Provider Provider `json:"provider,omitempty"`
	Region   string   `json:"region,omitempty"`
	Zone     string   `json:"zone,omitempty"`
}

// awsRegionCodes maps AWS region codes to the GCP-style codes the latency
// table is keyed by. Unmapped regions pass through unchanged.
var awsRegionCodes = map[string]string{
	"us-east-1":      "us-east1",
	"us-east-2":      "us-east2",
	"us-west-1":      "us-west1",
	"us-west-2":      "us-west2",
	"eu-west-1":      "europe-west1",
	"eu-west-2":      "europe-west2",
	"eu-central-1":   "europe-central1",
	"ap-northeast-1": "asia-northeast1",
	"ap-southeast-1": "asia-southeast1",
	"ap-southeast-2": "australia-southeast1",
}

// NormalizeRegion converts a provider-native region code to the normalized
// form used throughout the engine
func NormalizeRegion(provider Provider, region string) string {
	if provider == ProviderAWS {
		if normalized, ok := awsRegionCodes[region]; ok {
			return normalized
		}
	}
	return region
}

// categoryPrefixes maps provider-specific instance family prefixes to
// display categories. Longer prefixes are matched first.
var categoryPrefixes = map[Provider][]struct {
	prefix   string
	category Category
}{
	ProviderAWS: {
		{"p", CategoryGPU},
		{"g", CategoryGPU},
		{"inf", CategoryGPU},
		{"trn", CategoryGPU},
		{"c", CategoryComputeOptimized},
		{"r", CategoryMemoryOptimized},
		{"x", CategoryMemoryOptimized},
		{"z", CategoryMemoryOptimized},
		{"i", CategoryStorageOptimized},
		{"d", CategoryStorageOptimized},
		{"h", CategoryStorageOptimized},
		{"m", CategoryGeneralPurpose},
		{"t", CategoryGeneralPurpose},
		{"a", CategoryGeneralPurpose},
	},
	ProviderGCP: {
		{"a2", CategoryGPU},
		{"a3", CategoryGPU},
		{"a4", CategoryGPU},
		{"g2", CategoryGPU},
		{"c2", CategoryComputeOptimized},
		{"c3", CategoryComputeOptimized},
		{"c4", CategoryComputeOptimized},
		{"h3", CategoryComputeOptimized},
		{"m1", CategoryMemoryOptimized},
		{"m2", CategoryMemoryOptimized},
		{"m3", CategoryMemoryOptimized},
		{"z3", CategoryStorageOptimized},
		{"e2", CategoryGeneralPurpose},
		{"n1", CategoryGeneralPurpose},
		{"n2", CategoryGeneralPurpose},
		{"n4", CategoryGeneralPurpose},
		{"t2", CategoryGeneralPurpose},
	},
	ProviderDigitalOcean: {
		{"gpu-", CategoryGPU},
		{"c-", CategoryComputeOptimized},
		{"c2-", CategoryComputeOptimized},
		{"m-", CategoryMemoryOptimized},
		{"m3-", CategoryMemoryOptimized},
		{"m6-", CategoryMemoryOptimized},
		{"so-", CategoryStorageOptimized},
		{"so1_5-", CategoryStorageOptimized},
		{"s-", CategoryGeneralPurpose},
		{"g-", CategoryGeneralPurpose},
		{"gd-", CategoryGeneralPurpose},
	},
}

// Categorize tags an instance type with its display category using
// per-provider naming-prefix rules. Entries with GPUs are always "gpus".
func Categorize(provider Provider, instanceType string, gpu *GPUSpec) Category {
	if gpu != nil && gpu.Count > 0 {
		return CategoryGPU
	}

	name := strings.ToLower(instanceType)
	prefixes, ok := categoryPrefixes[provider]
	if !ok {
		return CategoryOther
	}

	// Longest prefix wins so "inf" beats "i" and "so-" beats "s-"
	best := CategoryOther
	bestLen := 0
	for _, p := range prefixes {
		if strings.HasPrefix(name, p.prefix) && len(p.prefix) > bestLen {
			best = p.category
			bestLen = len(p.prefix)
		}
	}
	return best
}
