package pricing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
	"vmbroker/internal/logging"
)

// defaultGCPZones is used when the configuration lists none
var defaultGCPZones = []string{
	"us-central1-a", "us-east1-b", "us-west1-a",
	"europe-west1-b", "europe-west4-a",
	"asia-east1-a", "asia-southeast1-a",
}

// gcpGPUAttachments lists the GPU configurations offered as variants of
// attachment-capable machine types
var gcpGPUAttachments = []struct {
	gpuType string
	count   int
}{
	{"nvidia-tesla-t4", 1},
	{"nvidia-tesla-t4", 2},
	{"nvidia-tesla-v100", 1},
	{"nvidia-tesla-a100", 1},
}

// gcpMachineTypeLister is the slice of the Compute Engine API this fetcher
// needs. Satisfied by the real service and by test doubles.
type gcpMachineTypeLister interface {
	ListMachineTypes(ctx context.Context, project, zone string) ([]*compute.MachineType, error)
}

type gcpComputeService struct {
	service *compute.Service
}

func (s *gcpComputeService) ListMachineTypes(ctx context.Context, project, zone string) ([]*compute.MachineType, error) {
	var machineTypes []*compute.MachineType
	call := s.service.MachineTypes.List(project, zone)
	err := call.Pages(ctx, func(page *compute.MachineTypeList) error {
		machineTypes = append(machineTypes, page.Items...)
		return nil
	})
	return machineTypes, err
}

// GCPFetcher retrieves the Compute Engine machine type catalog and prices
// it from the series rate tables. The Compute API exposes hardware shapes
// but no prices, so pricing here is always an estimate.
type GCPFetcher struct {
	lister  gcpMachineTypeLister
	project string
	zones   []string
}

// NewGCPFetcher builds a fetcher authenticated with a service account file
func NewGCPFetcher(ctx context.Context, creds credentials.GCPCredentials, zones []string) (*GCPFetcher, error) {
	service, err := compute.NewService(ctx, option.WithCredentialsFile(creds.FilePath))
	if err != nil {
		return nil, &PriceFetchError{Provider: catalog.ProviderGCP, Cause: err}
	}

	if len(zones) == 0 {
		zones = defaultGCPZones
	}

	return &GCPFetcher{
		lister:  &gcpComputeService{service: service},
		project: creds.ProjectID,
		zones:   zones,
	}, nil
}

func (f *GCPFetcher) Provider() catalog.Provider {
	return catalog.ProviderGCP
}

// FetchCatalog lists machine types across the configured zones, dedupes by
// name, prices them from the series tables, and expands GPU and spot
// variants. A failure in one zone skips that zone; the fetch fails only
// when every zone fails.
func (f *GCPFetcher) FetchCatalog(ctx context.Context, filters Filters) ([]catalog.PriceEntry, error) {
	fetchedAt := time.Now()
	seen := make(map[string]bool)
	var entries []catalog.PriceEntry
	var lastErr error
	failedZones := 0

	for _, zone := range f.zones {
		region := zoneToRegion(zone)
		if filters.Region != "" && region != filters.Region {
			continue
		}

		machineTypes, err := f.lister.ListMachineTypes(ctx, f.project, zone)
		if err != nil {
			logging.Logger().Warn("failed to list machine types for zone",
				zap.String("zone", zone), zap.Error(err))
			lastErr = err
			failedZones++
			continue
		}

		for _, mt := range machineTypes {
			if seen[mt.Name] {
				continue
			}
			seen[mt.Name] = true
			entries = append(entries, gcpEntry(mt, region, zone, fetchedAt))
		}
	}

	if failedZones > 0 && len(entries) == 0 {
		return nil, &PriceFetchError{Provider: catalog.ProviderGCP, Cause: lastErr}
	}
	if len(entries) == 0 {
		return nil, &PriceFetchError{Provider: catalog.ProviderGCP, Cause: ErrNoCatalog}
	}

	entries = append(entries, gcpGPUVariants(entries)...)
	if filters.PricingModel == "" || filters.PricingModel == catalog.PricingSpot {
		entries = append(entries, deriveSpotEntries(entries)...)
	}
	if filters.PricingModel != "" {
		// a pricing model with no offerings is an empty result, not an outage
		entries = filterByModel(entries, filters.PricingModel)
	}
	return entries, nil
}

// FetchSample lists machine types in the first configured zone only, without
// GPU or spot variants
func (f *GCPFetcher) FetchSample(ctx context.Context) ([]catalog.PriceEntry, error) {
	if len(f.zones) == 0 {
		return nil, &PriceFetchError{Provider: catalog.ProviderGCP, Cause: ErrNoCatalog}
	}

	zone := f.zones[0]
	machineTypes, err := f.lister.ListMachineTypes(ctx, f.project, zone)
	if err != nil {
		return nil, &PriceFetchError{Provider: catalog.ProviderGCP, Cause: err}
	}

	region := zoneToRegion(zone)
	fetchedAt := time.Now()
	entries := make([]catalog.PriceEntry, 0, len(machineTypes))
	for _, mt := range machineTypes {
		entries = append(entries, gcpEntry(mt, region, zone, fetchedAt))
	}
	return entries, nil
}

func gcpEntry(mt *compute.MachineType, region, zone string, fetchedAt time.Time) catalog.PriceEntry {
	ramGB := float64(mt.MemoryMb) / 1024
	series := machineSeries(mt.Name)

	return catalog.PriceEntry{
		Provider:     catalog.ProviderGCP,
		InstanceType: mt.Name,
		Region:       region,
		Zone:         zone,
		VCPU:         int(mt.GuestCpus),
		RAMGB:        ramGB,
		PricePerHour: GCPMachinePrice(series, int(mt.GuestCpus), ramGB),
		Currency:     "USD",
		PricingModel: catalog.PricingOnDemand,
		FetchedAt:    fetchedAt,
	}
}

// gcpGPUVariants expands GPU attachment variants for machine types that
// can carry accelerators: the n1/n2/a2 series with at least 4 vCPUs and
// 16GB of RAM
func gcpGPUVariants(entries []catalog.PriceEntry) []catalog.PriceEntry {
	var variants []catalog.PriceEntry
	for _, entry := range entries {
		series := machineSeries(entry.InstanceType)
		if entry.VCPU < 4 || entry.RAMGB < 16 {
			continue
		}
		if series != "n1" && series != "n2" && series != "a2" {
			continue
		}

		for _, gpu := range gcpGPUAttachments {
			variant := entry
			variant.InstanceType = entry.InstanceType + "-gpu-" + gpu.gpuType + "-" + strconv.Itoa(gpu.count)
			variant.GPU = &catalog.GPUSpec{
				Type:   gpu.gpuType,
				Count:  gpu.count,
				VRAMGB: EstimateVRAM(gpu.gpuType),
			}
			variant.PricePerHour = roundPrice(entry.PricePerHour + GPUHourlyRate(gpu.gpuType)*float64(gpu.count))
			variants = append(variants, variant)
		}
	}
	return variants
}

// machineSeries extracts the series from a machine type name, e.g.
// "n2-standard-4" gives "n2"
func machineSeries(name string) string {
	if i := strings.Index(name, "-"); i > 0 {
		return name[:i]
	}
	return name
}

// zoneToRegion strips the zone letter suffix, e.g. "us-central1-a" gives
// "us-central1"
func zoneToRegion(zone string) string {
	if i := strings.LastIndex(zone, "-"); i > 0 {
		return zone[:i]
	}
	return zone
}
