package selector_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vmbroker/internal/catalog"
	"vmbroker/internal/latency"
	"vmbroker/internal/pricing"
	"vmbroker/internal/pricing/pricecache"
	"vmbroker/internal/selector"
)

// MockFetcher implements pricing.Fetcher with canned entries
type MockFetcher struct {
	provider catalog.Provider
	entries  []catalog.PriceEntry
	err      error

	mu    sync.Mutex
	calls int
}

func (m *MockFetcher) Provider() catalog.Provider {
	return m.provider
}

func (m *MockFetcher) FetchCatalog(ctx context.Context, filters pricing.Filters) ([]catalog.PriceEntry, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return m.entries, nil
}

func (m *MockFetcher) FetchSample(ctx context.Context) ([]catalog.PriceEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.entries) > 1 {
		return m.entries[:1], nil
	}
	return m.entries, nil
}

func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockResolver implements latency.LocationResolver with a fixed location
type MockResolver struct {
	location latency.GeoPoint
}

func (m *MockResolver) Resolve(ctx context.Context, ip string) (latency.GeoPoint, error) {
	return m.location, nil
}

func awsEntry(instanceType string, vcpu int, ramGB, price float64) catalog.PriceEntry {
	return catalog.PriceEntry{
		Provider:     catalog.ProviderAWS,
		InstanceType: instanceType,
		Region:       "us-east1",
		VCPU:         vcpu,
		RAMGB:        ramGB,
		PricePerHour: price,
		Currency:     "USD",
		PricingModel: catalog.PricingOnDemand,
		FetchedAt:    time.Now(),
	}
}

func gcpEntry(instanceType string, vcpu int, ramGB, price float64) catalog.PriceEntry {
	return catalog.PriceEntry{
		Provider:     catalog.ProviderGCP,
		InstanceType: instanceType,
		Region:       "europe-west1",
		Zone:         "europe-west1-b",
		VCPU:         vcpu,
		RAMGB:        ramGB,
		PricePerHour: price,
		Currency:     "USD",
		PricingModel: catalog.PricingOnDemand,
		FetchedAt:    time.Now(),
	}
}

var _ = Describe("Engine", func() {
	var (
		awsFetcher *MockFetcher
		gcpFetcher *MockFetcher
		resolver   *MockResolver
		cache      *pricecache.Cache
		engine     *selector.Engine
		ctx        context.Context
	)

	// Resolver pins the user to New York; us-east1 is the nearest region
	newYork := latency.GeoPoint{Lat: 40.7128, Lon: -74.0060, City: "New York"}

	newEngine := func() *selector.Engine {
		return selector.NewEngine(selector.Deps{
			Fetchers:      []pricing.Fetcher{awsFetcher, gcpFetcher},
			Cache:         cache,
			Resolver:      resolver,
			CacheMaxAge:   time.Hour,
			FetchTimeout:  time.Minute,
			MaxConcurrent: 2,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		awsFetcher = &MockFetcher{
			provider: catalog.ProviderAWS,
			entries: []catalog.PriceEntry{
				awsEntry("m5.xlarge", 4, 16, 0.192),
				awsEntry("m5.2xlarge", 8, 32, 0.384),
				awsEntry("t3.micro", 2, 1, 0.0104),
			},
		}
		gcpFetcher = &MockFetcher{
			provider: catalog.ProviderGCP,
			entries: []catalog.PriceEntry{
				gcpEntry("n2-standard-4", 4, 16, 0.194),
				gcpEntry("e2-standard-8", 8, 32, 0.268),
			},
		}
		resolver = &MockResolver{location: newYork}
		cache = pricecache.New(GinkgoT().TempDir())
		engine = newEngine()
	})

	Describe("FindOptimalInstance", func() {
		It("returns only candidates that satisfy the hardware minimums", func() {
			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:  4,
				RAMGB: 16,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Candidates).NotTo(BeEmpty())

			for _, c := range result.Candidates {
				Expect(c.VCPU).To(BeNumerically(">=", 4))
				Expect(c.RAMGB).To(BeNumerically(">=", 16.0))
			}
		})

		It("ranks by price when the preference is price", func() {
			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:       4,
				RAMGB:      16,
				Preference: catalog.PreferPrice,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Candidates[0].InstanceType).To(Equal("m5.xlarge"))
		})

		It("ranks by latency when the preference is latency", func() {
			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:       4,
				RAMGB:      16,
				Preference: catalog.PreferLatency,
			})
			Expect(err).NotTo(HaveOccurred())

			// From New York, AWS us-east1 beats GCP europe-west1
			Expect(result.Candidates[0].Provider).To(Equal(catalog.ProviderAWS))
		})

		It("returns an empty candidate list when nothing satisfies", func() {
			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU: 128,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Candidates).To(BeEmpty())
		})

		It("isolates a single provider failure", func() {
			gcpFetcher.err = errors.New("compute API quota exceeded")
			engine = newEngine()

			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:  4,
				RAMGB: 16,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ProviderErrors).To(HaveKey(catalog.ProviderGCP))

			for _, c := range result.Candidates {
				Expect(c.Provider).To(Equal(catalog.ProviderAWS))
			}
		})

		It("fails only when every provider is unavailable", func() {
			awsFetcher.err = errors.New("throttled")
			gcpFetcher.err = errors.New("unauthorized")
			engine = newEngine()

			_, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{VCPU: 2})
			Expect(err).To(MatchError(selector.ErrAllProvidersUnavailable))
		})

		It("applies provider and region post-filters", func() {
			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:     4,
				RAMGB:    16,
				Provider: catalog.ProviderGCP,
				Region:   "europe-west1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Candidates).NotTo(BeEmpty())
			for _, c := range result.Candidates {
				Expect(c.Provider).To(Equal(catalog.ProviderGCP))
				Expect(c.Region).To(Equal("europe-west1"))
			}
		})

		It("tags candidates with display categories", func() {
			result, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:       4,
				RAMGB:      16,
				Preference: catalog.PreferPrice,
			})
			Expect(err).NotTo(HaveOccurred())
			for _, c := range result.Candidates {
				Expect(c.Category).NotTo(BeEmpty())
			}
		})

		It("folds estimated storage cost into the hourly price", func() {
			withStorage, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:        4,
				RAMGB:       16,
				StorageType: "ssd",
				StorageGB:   500,
				Preference:  catalog.PreferPrice,
			})
			Expect(err).NotTo(HaveOccurred())

			// Fresh cache so both queries fetch the same catalog
			cache = pricecache.New(GinkgoT().TempDir())
			engine = newEngine()
			withoutStorage, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{
				VCPU:       4,
				RAMGB:      16,
				Preference: catalog.PreferPrice,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(withStorage.Candidates[0].PricePerHour).To(
				BeNumerically(">", withoutStorage.Candidates[0].PricePerHour))
		})
	})

	Describe("catalog caching", func() {
		It("serves repeat queries from the cache", func() {
			_, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{VCPU: 2})
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{VCPU: 2})
			Expect(err).NotTo(HaveOccurred())

			Expect(awsFetcher.Calls()).To(Equal(1))
			Expect(gcpFetcher.Calls()).To(Equal(1))
		})

		It("fetches live again after a refresh", func() {
			_, err := engine.FindOptimalInstance(ctx, catalog.ResourceRequirement{VCPU: 2})
			Expect(err).NotTo(HaveOccurred())

			counts, err := engine.Refresh(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveKey(catalog.ProviderAWS))
			Expect(counts[catalog.ProviderAWS]).To(Equal(3))
			Expect(awsFetcher.Calls()).To(Equal(2))
		})
	})

	Describe("CheckProviders", func() {
		It("reports a sample size per healthy provider", func() {
			results := engine.CheckProviders(ctx)

			Expect(results).To(HaveLen(2))
			Expect(results[catalog.ProviderAWS].Err).NotTo(HaveOccurred())
			Expect(results[catalog.ProviderAWS].SampleSize).To(BeNumerically(">", 0))
		})

		It("reports per-provider failures without aborting the check", func() {
			gcpFetcher.err = errors.New("unauthorized")
			engine = newEngine()

			results := engine.CheckProviders(ctx)

			Expect(results[catalog.ProviderGCP].Err).To(HaveOccurred())
			Expect(results[catalog.ProviderAWS].Err).NotTo(HaveOccurred())
		})
	})

	Describe("RegionLatencies", func() {
		It("returns regions sorted nearest first", func() {
			latencies, loc, err := engine.RegionLatencies(ctx, "203.0.113.7")
			Expect(err).NotTo(HaveOccurred())
			Expect(loc.City).To(Equal("New York"))
			Expect(latencies).NotTo(BeEmpty())

			for i := 1; i < len(latencies); i++ {
				Expect(latencies[i].LatencyMs).To(BeNumerically(">=", latencies[i-1].LatencyMs))
			}

			// DigitalOcean NYC sits on top from a New York vantage point
			Expect(latencies[0].Provider).To(Equal(catalog.ProviderDigitalOcean))
		})
	})
})
