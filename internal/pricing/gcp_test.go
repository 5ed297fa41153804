package pricing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/api/compute/v1"

	"vmbroker/internal/catalog"
)

type fakeMachineTypeLister struct {
	byZone map[string][]*compute.MachineType
	errs   map[string]error
}

func (f *fakeMachineTypeLister) ListMachineTypes(ctx context.Context, project, zone string) ([]*compute.MachineType, error) {
	if err, ok := f.errs[zone]; ok {
		return nil, err
	}
	return f.byZone[zone], nil
}

func machineType(name string, cpus int64, memoryMb int64) *compute.MachineType {
	return &compute.MachineType{Name: name, GuestCpus: cpus, MemoryMb: memoryMb}
}

func TestGCPFetchCatalogDeduplicates(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{byZone: map[string][]*compute.MachineType{
			"us-central1-a": {machineType("e2-standard-2", 2, 8192)},
			"us-east1-b":    {machineType("e2-standard-2", 2, 8192)},
		}},
		project: "test-project",
		zones:   []string{"us-central1-a", "us-east1-b"},
	}

	entries, err := fetcher.FetchCatalog(context.Background(), Filters{PricingModel: catalog.PricingOnDemand})
	if err != nil {
		t.Fatalf("FetchCatalog() returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 after dedup", len(entries))
	}
	if entries[0].Region != "us-central1" || entries[0].Zone != "us-central1-a" {
		t.Errorf("unexpected region/zone: %+v", entries[0])
	}
}

func TestGCPFetchCatalogPricesFromSeries(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{byZone: map[string][]*compute.MachineType{
			"us-central1-a": {machineType("n2-standard-4", 4, 16384)},
		}},
		project: "test-project",
		zones:   []string{"us-central1-a"},
	}

	entries, err := fetcher.FetchCatalog(context.Background(), Filters{PricingModel: catalog.PricingOnDemand})
	if err != nil {
		t.Fatal(err)
	}

	var base *catalog.PriceEntry
	for i := range entries {
		if entries[i].InstanceType == "n2-standard-4" {
			base = &entries[i]
		}
	}
	if base == nil {
		t.Fatal("base machine type missing from catalog")
	}
	if want := GCPMachinePrice("n2", 4, 16); base.PricePerHour != want {
		t.Errorf("PricePerHour = %v, want %v", base.PricePerHour, want)
	}
}

func TestGCPFetchCatalogExpandsGPUVariants(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{byZone: map[string][]*compute.MachineType{
			// GPU-attachable shape plus one too small to attach
			"us-central1-a": {
				machineType("n1-standard-8", 8, 32768),
				machineType("e2-small", 2, 2048),
			},
		}},
		project: "test-project",
		zones:   []string{"us-central1-a"},
	}

	entries, err := fetcher.FetchCatalog(context.Background(), Filters{PricingModel: catalog.PricingOnDemand})
	if err != nil {
		t.Fatal(err)
	}

	gpuVariants := 0
	for _, entry := range entries {
		if entry.GPU == nil {
			continue
		}
		gpuVariants++
		if !strings.HasPrefix(entry.InstanceType, "n1-standard-8-gpu-") {
			t.Errorf("GPU variant on wrong base: %s", entry.InstanceType)
		}
		if entry.GPU.VRAMGB == 0 {
			t.Errorf("GPU variant %s missing VRAM estimate", entry.InstanceType)
		}
	}
	if gpuVariants != len(gcpGPUAttachments) {
		t.Errorf("got %d GPU variants, want %d", gpuVariants, len(gcpGPUAttachments))
	}
}

func TestGCPFetchCatalogSpotVariants(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{byZone: map[string][]*compute.MachineType{
			"us-central1-a": {machineType("e2-standard-2", 2, 8192)},
		}},
		project: "test-project",
		zones:   []string{"us-central1-a"},
	}

	entries, err := fetcher.FetchCatalog(context.Background(), Filters{PricingModel: catalog.PricingSpot})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d spot entries, want 1", len(entries))
	}
	onDemand := GCPMachinePrice("e2", 2, 8)
	if entries[0].PricePerHour >= onDemand {
		t.Errorf("spot price %v not below on-demand %v", entries[0].PricePerHour, onDemand)
	}
}

func TestGCPFetchCatalogZoneFailureIsolated(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{
			byZone: map[string][]*compute.MachineType{
				"us-central1-a": {machineType("e2-standard-2", 2, 8192)},
			},
			errs: map[string]error{"europe-west1-b": errors.New("quota exceeded")},
		},
		project: "test-project",
		zones:   []string{"us-central1-a", "europe-west1-b"},
	}

	entries, err := fetcher.FetchCatalog(context.Background(), Filters{PricingModel: catalog.PricingOnDemand})
	if err != nil {
		t.Fatalf("one failing zone should not fail the fetch: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1 from the healthy zone", len(entries))
	}
}

func TestGCPFetchCatalogAllZonesFail(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{
			errs: map[string]error{"us-central1-a": errors.New("unauthorized")},
		},
		project: "test-project",
		zones:   []string{"us-central1-a"},
	}

	_, err := fetcher.FetchCatalog(context.Background(), Filters{})
	var fetchErr *PriceFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected PriceFetchError, got %v", err)
	}
	if fetchErr.Provider != catalog.ProviderGCP {
		t.Errorf("Provider = %v, want GCP", fetchErr.Provider)
	}
}

func TestGCPFetchSampleFirstZoneOnly(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{byZone: map[string][]*compute.MachineType{
			"us-central1-a":  {machineType("e2-standard-2", 2, 8192)},
			"europe-west1-b": {machineType("e2-standard-8", 8, 32768)},
		}},
		project: "test-project",
		zones:   []string{"us-central1-a", "europe-west1-b"},
	}

	entries, err := fetcher.FetchSample(context.Background())
	if err != nil {
		t.Fatalf("FetchSample() returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want the first zone only", len(entries))
	}
	if entries[0].Zone != "us-central1-a" {
		t.Errorf("sample zone = %q, want us-central1-a", entries[0].Zone)
	}
}

func TestGCPFetchCatalogUnsupportedModelIsEmpty(t *testing.T) {
	fetcher := &GCPFetcher{
		lister: &fakeMachineTypeLister{byZone: map[string][]*compute.MachineType{
			"us-central1-a": {machineType("e2-standard-2", 2, 8192)},
		}},
		project: "test-project",
		zones:   []string{"us-central1-a"},
	}

	entries, err := fetcher.FetchCatalog(context.Background(), Filters{PricingModel: catalog.PricingReserved})
	if err != nil {
		t.Fatalf("a pricing model with no offerings should not be an error, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want none for the reserved model", len(entries))
	}
}

func TestZoneToRegion(t *testing.T) {
	if got := zoneToRegion("us-central1-a"); got != "us-central1" {
		t.Errorf("zoneToRegion(us-central1-a) = %q", got)
	}
	if got := zoneToRegion("europe-west4-b"); got != "europe-west4" {
		t.Errorf("zoneToRegion(europe-west4-b) = %q", got)
	}
}
