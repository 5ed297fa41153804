package pricing

import (
	"context"
	"time"

	"github.com/digitalocean/godo"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
)

// doSizesAPI is the slice of the godo client this fetcher needs
type doSizesAPI interface {
	List(ctx context.Context, opt *godo.ListOptions) ([]godo.Size, *godo.Response, error)
}

// DOFetcher retrieves the Droplet size catalog from the DigitalOcean API.
// Sizes carry their hourly price directly, so no rate tables are involved.
// DigitalOcean bills on demand only.
type DOFetcher struct {
	sizes doSizesAPI
}

// NewDOFetcher builds a fetcher authenticated with an API token
func NewDOFetcher(creds credentials.DigitalOceanCredentials) *DOFetcher {
	client := godo.NewFromToken(creds.Token)
	return &DOFetcher{sizes: client.Sizes}
}

func (f *DOFetcher) Provider() catalog.Provider {
	return catalog.ProviderDigitalOcean
}

// FetchCatalog lists all available Droplet sizes. A size available in
// several regions yields one entry per region.
func (f *DOFetcher) FetchCatalog(ctx context.Context, filters Filters) ([]catalog.PriceEntry, error) {
	// DigitalOcean has no spot or reserved market, so any other pricing
	// model is an empty result rather than a provider failure
	if filters.PricingModel != "" && filters.PricingModel != catalog.PricingOnDemand {
		return nil, nil
	}

	fetchedAt := time.Now()
	opt := &godo.ListOptions{PerPage: 200}
	var entries []catalog.PriceEntry

	for {
		sizes, resp, err := f.sizes.List(ctx, opt)
		if err != nil {
			return nil, &PriceFetchError{Provider: catalog.ProviderDigitalOcean, Cause: err}
		}

		for _, size := range sizes {
			if !size.Available || size.PriceHourly <= 0 {
				continue
			}
			for _, region := range size.Regions {
				if filters.Region != "" && region != filters.Region {
					continue
				}
				entries = append(entries, doEntry(size, region, fetchedAt))
			}
		}

		if resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			break
		}
		opt.Page = page + 1
	}

	if len(entries) == 0 {
		return nil, &PriceFetchError{Provider: catalog.ProviderDigitalOcean, Cause: ErrNoCatalog}
	}
	return entries, nil
}

// FetchSample fetches a single page of sizes
func (f *DOFetcher) FetchSample(ctx context.Context) ([]catalog.PriceEntry, error) {
	sizes, _, err := f.sizes.List(ctx, &godo.ListOptions{PerPage: 20})
	if err != nil {
		return nil, &PriceFetchError{Provider: catalog.ProviderDigitalOcean, Cause: err}
	}

	fetchedAt := time.Now()
	var entries []catalog.PriceEntry
	for _, size := range sizes {
		if !size.Available || size.PriceHourly <= 0 {
			continue
		}
		for _, region := range size.Regions {
			entries = append(entries, doEntry(size, region, fetchedAt))
		}
	}
	return entries, nil
}

func doEntry(size godo.Size, region string, fetchedAt time.Time) catalog.PriceEntry {
	entry := catalog.PriceEntry{
		Provider:     catalog.ProviderDigitalOcean,
		InstanceType: size.Slug,
		Region:       region,
		VCPU:         size.Vcpus,
		RAMGB:        float64(size.Memory) / 1024,
		PricePerHour: size.PriceHourly,
		Currency:     "USD",
		PricingModel: catalog.PricingOnDemand,
		FetchedAt:    fetchedAt,
	}
	if size.Disk > 0 {
		entry.Storage = &catalog.StorageSpec{Type: "ssd", SizeGB: float64(size.Disk)}
	}
	if size.GPUInfo != nil && size.GPUInfo.Count > 0 {
		entry.GPU = &catalog.GPUSpec{
			Type:   size.GPUInfo.Model,
			Count:  size.GPUInfo.Count,
			VRAMGB: EstimateVRAM(size.GPUInfo.Model),
		}
		if entry.GPU.VRAMGB == 0 && size.GPUInfo.VRAM != nil {
			entry.GPU.VRAMGB = float64(size.GPUInfo.VRAM.Amount)
		}
	}
	return entry
}
