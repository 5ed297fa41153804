// Package allocation holds the pure matching and ranking logic of the
// engine. It has no I/O: callers feed it price entries and latencies and
// get back a ranked candidate list.
package allocation

import (
	"sort"
	"strings"

	"vmbroker/internal/catalog"
)

// knownGPUModels lists core model names in match order. Longer names come
// first so "l40s" is not swallowed by "l4".
var knownGPUModels = []string{
	"l40s", "h200", "h100", "b200", "a100", "a10g",
	"v100", "p100", "m60", "k80", "t4", "l4", "p4",
}

// awsGPUFamilies maps AWS GPU instance family prefixes to core GPU models,
// so a request for "h100" matches a p5 offering even when the catalog only
// carries the family name
var awsGPUFamilies = []struct {
	prefix string
	model  string
}{
	{"p5en", "h200"},
	{"p5e", "h200"},
	{"p5", "h100"},
	{"p6", "h100"},
	{"p4", "a100"},
	{"p3", "v100"},
	{"p2", "k80"},
	{"g6e", "l40s"},
	{"g6", "l4"},
	{"g5", "a10g"},
	{"g4", "t4"},
	{"g3", "m60"},
}

// GPUModel reduces a GPU type string to its core model name. Vendor
// prefixes, separators, and instance-family aliases all collapse to the
// same model, so "NVIDIA Tesla T4", "nvidia-tesla-t4", and "g4dn" compare
// equal. Unknown strings are returned in normalized form.
func GPUModel(gpuType string) string {
	name := strings.ToLower(gpuType)

	for _, f := range awsGPUFamilies {
		if strings.HasPrefix(name, f.prefix) {
			return f.model
		}
	}

	normalized := strings.NewReplacer(
		" ", "", "-", "", "_", "",
		"nvidia", "", "tesla", "",
	).Replace(name)

	for _, model := range knownGPUModels {
		if strings.Contains(normalized, model) {
			return model
		}
	}
	return normalized
}

// gpuTypeMatches reports whether an offering's GPU satisfies the requested
// type
func gpuTypeMatches(offered, requested string) bool {
	if offered == "" || requested == "" {
		return false
	}
	return GPUModel(offered) == GPUModel(requested)
}

// MeetsRequirements reports whether an offering satisfies the hardware
// minimums of a requirement. All hardware fields are minimums: an 8-vCPU
// offering satisfies a 4-vCPU request. Offerings never fail for exceeding
// a requirement.
func MeetsRequirements(entry catalog.PriceEntry, req catalog.ResourceRequirement) bool {
	if req.VCPU > 0 && entry.VCPU < req.VCPU {
		return false
	}
	if req.RAMGB > 0 && entry.RAMGB < req.RAMGB {
		return false
	}

	if req.GPUType != "" || req.GPUCount > 0 {
		if entry.GPU == nil || entry.GPU.Count == 0 {
			return false
		}
		if req.GPUType != "" && !gpuTypeMatches(entry.GPU.Type, req.GPUType) {
			return false
		}
		minCount := req.GPUCount
		if minCount == 0 {
			minCount = 1
		}
		if entry.GPU.Count < minCount {
			return false
		}
	}

	if req.VRAMGB > 0 {
		if entry.GPU == nil {
			return false
		}
		if entry.GPU.VRAMGB*float64(entry.GPU.Count) < req.VRAMGB {
			return false
		}
	}

	// Storage only rejects offerings with fixed bundled disks that are too
	// small or of the wrong kind; providers with attachable volumes satisfy
	// any request since a volume of the requested type gets attached
	if entry.Storage != nil {
		if req.StorageGB > 0 && entry.Storage.SizeGB < req.StorageGB {
			return false
		}
		if req.StorageType != "" && !strings.EqualFold(entry.Storage.Type, req.StorageType) {
			return false
		}
	}

	if req.PricingModel != "" && entry.PricingModel != req.PricingModel {
		return false
	}

	return true
}

// Filter returns the entries that satisfy the requirement. An empty result
// is a valid outcome, not an error.
func Filter(entries []catalog.PriceEntry, req catalog.ResourceRequirement) []catalog.PriceEntry {
	var matched []catalog.PriceEntry
	for _, entry := range entries {
		if MeetsRequirements(entry, req) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// Rank scores and sorts candidates in place by the given preference,
// best first. Price prefers the cheapest, latency the nearest, balanced
// weighs both equally after normalizing each over the candidate set.
// Ties break deterministically on provider, then instance type, then
// region, so identical inputs always produce identical output order.
func Rank(candidates []catalog.VMCandidate, pref catalog.Preference) {
	switch pref {
	case catalog.PreferPrice:
		for i := range candidates {
			candidates[i].Score = candidates[i].PricePerHour
		}
	case catalog.PreferLatency:
		for i := range candidates {
			candidates[i].Score = candidates[i].LatencyMs
		}
	default:
		scoreBalanced(candidates)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.InstanceType != b.InstanceType {
			return a.InstanceType < b.InstanceType
		}
		return a.Region < b.Region
	})
}

// scoreBalanced assigns 0.5*priceNorm + 0.5*latencyNorm, each normalized
// to [0,1] over the candidate set. A degenerate dimension (all values
// equal) contributes zero to every candidate.
func scoreBalanced(candidates []catalog.VMCandidate) {
	if len(candidates) == 0 {
		return
	}

	minPrice, maxPrice := candidates[0].PricePerHour, candidates[0].PricePerHour
	minLatency, maxLatency := candidates[0].LatencyMs, candidates[0].LatencyMs
	for _, c := range candidates[1:] {
		minPrice = min(minPrice, c.PricePerHour)
		maxPrice = max(maxPrice, c.PricePerHour)
		minLatency = min(minLatency, c.LatencyMs)
		maxLatency = max(maxLatency, c.LatencyMs)
	}

	priceRange := maxPrice - minPrice
	latencyRange := maxLatency - minLatency
	for i := range candidates {
		var score float64
		if priceRange > 0 {
			score += 0.5 * (candidates[i].PricePerHour - minPrice) / priceRange
		}
		if latencyRange > 0 {
			score += 0.5 * (candidates[i].LatencyMs - minLatency) / latencyRange
		}
		candidates[i].Score = score
	}
}
