// Package selector orchestrates the allocation pipeline: resolve the user
// location, gather priced catalogs from every enabled provider, and rank
// the offerings that satisfy the request.
package selector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"vmbroker/internal/allocation"
	"vmbroker/internal/catalog"
	"vmbroker/internal/latency"
	"vmbroker/internal/logging"
	"vmbroker/internal/pricing"
	"vmbroker/internal/pricing/pricecache"
)

// ErrAllProvidersUnavailable is returned only when every enabled provider
// failed to deliver a catalog. A single healthy provider keeps the engine
// serving.
var ErrAllProvidersUnavailable = errors.New("no provider could deliver pricing data")

// Latency assigned to regions missing from the coordinate table, pessimistic
// enough to rank them last without excluding them
const unknownRegionLatencyMs = 300.0

// Result is the outcome of an allocation query. An empty candidate list
// with no error means nothing satisfied the requirements.
type Result struct {
	Candidates     []catalog.VMCandidate       `json:"candidates"`
	UserLocation   latency.GeoPoint            `json:"userLocation"`
	ProviderErrors map[catalog.Provider]string `json:"providerErrors,omitempty"`
}

// Engine wires fetchers, cache, and the latency estimator together. All
// dependencies are injected so tests can run it hermetically.
type Engine struct {
	fetchers      map[catalog.Provider]pricing.Fetcher
	cache         *pricecache.Cache
	resolver      latency.LocationResolver
	cacheMaxAge   time.Duration
	fetchTimeout  time.Duration
	maxConcurrent int
}

// Deps carries the Engine's dependencies
type Deps struct {
	Fetchers      []pricing.Fetcher
	Cache         *pricecache.Cache
	Resolver      latency.LocationResolver
	CacheMaxAge   time.Duration
	FetchTimeout  time.Duration
	MaxConcurrent int
}

// NewEngine builds an Engine from its dependencies
func NewEngine(deps Deps) *Engine {
	fetchers := make(map[catalog.Provider]pricing.Fetcher, len(deps.Fetchers))
	for _, f := range deps.Fetchers {
		fetchers[f.Provider()] = f
	}

	maxConcurrent := deps.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = len(fetchers)
	}
	if maxConcurrent == 0 {
		maxConcurrent = 1
	}

	return &Engine{
		fetchers:      fetchers,
		cache:         deps.Cache,
		resolver:      deps.Resolver,
		cacheMaxAge:   deps.CacheMaxAge,
		fetchTimeout:  deps.FetchTimeout,
		maxConcurrent: maxConcurrent,
	}
}

// Providers lists the enabled providers
func (e *Engine) Providers() []catalog.Provider {
	providers := make([]catalog.Provider, 0, len(e.fetchers))
	for p := range e.fetchers {
		providers = append(providers, p)
	}
	return providers
}

// RegionLatencies resolves the caller's location and estimates latency to
// every known region, nearest first
func (e *Engine) RegionLatencies(ctx context.Context, ip string) ([]catalog.RegionLatency, latency.GeoPoint, error) {
	loc, err := e.resolver.Resolve(ctx, ip)
	if err != nil {
		return nil, latency.GeoPoint{}, err
	}
	return latency.RegionLatencies(loc), loc, nil
}

// FindOptimalInstance runs the full allocation pipeline for one request.
// Provider failures are isolated: candidates from healthy providers are
// returned alongside the per-provider error details, and only total
// failure yields ErrAllProvidersUnavailable.
func (e *Engine) FindOptimalInstance(ctx context.Context, req catalog.ResourceRequirement) (*Result, error) {
	loc, err := e.resolver.Resolve(ctx, req.UserIPAddress)
	if err != nil {
		return nil, err
	}

	entries, providerErrors := e.gatherCatalogs(ctx, pricing.Filters{PricingModel: req.PricingModel})
	if len(entries) == 0 && len(providerErrors) == len(e.fetchers) && len(e.fetchers) > 0 {
		return nil, ErrAllProvidersUnavailable
	}

	matched := allocation.Filter(entries, req)
	matched = applyPostFilters(matched, req)

	latencyByRegion := regionLatencyIndex(latency.RegionLatencies(loc))
	candidates := buildCandidates(matched, req, latencyByRegion)
	allocation.Rank(candidates, req.Preference)

	logging.Logger().Info("allocation query complete",
		zap.Int("catalogEntries", len(entries)),
		zap.Int("candidates", len(candidates)),
		zap.String("preference", string(req.Preference)),
		zap.Int("providerFailures", len(providerErrors)))

	return &Result{
		Candidates:     candidates,
		UserLocation:   loc,
		ProviderErrors: providerErrors,
	}, nil
}

// gatherCatalogs collects price entries from every provider concurrently,
// serving each from cache when fresh. One worker per provider, bounded by
// the configured concurrency.
func (e *Engine) gatherCatalogs(ctx context.Context, filters pricing.Filters) ([]catalog.PriceEntry, map[catalog.Provider]string) {
	var mu sync.Mutex
	var entries []catalog.PriceEntry
	providerErrors := make(map[catalog.Provider]string)

	pool := pond.NewPool(e.maxConcurrent)
	for provider, fetcher := range e.fetchers {
		pool.Submit(func() {
			providerEntries, err := e.cacheOrFetch(ctx, provider, fetcher, filters)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Logger().Warn("provider catalog unavailable",
					zap.String("provider", string(provider)), zap.Error(err))
				providerErrors[provider] = logging.Truncate(err.Error())
				return
			}
			entries = append(entries, providerEntries...)
		})
	}
	pool.StopAndWait()

	if len(providerErrors) == 0 {
		return entries, nil
	}
	return entries, providerErrors
}

// cacheOrFetch serves a provider catalog from the cache when a fresh record
// exists, otherwise fetches live and stores the result. Cache write
// failures degrade to a log line; the fetched data is still returned.
func (e *Engine) cacheOrFetch(ctx context.Context, provider catalog.Provider, fetcher pricing.Fetcher, filters pricing.Filters) ([]catalog.PriceEntry, error) {
	key := cacheKey(provider, filters)

	var cached []catalog.PriceEntry
	if e.cache.Get(key, e.cacheMaxAge, &cached) {
		logging.Logger().Debug("serving catalog from cache",
			zap.String("provider", string(provider)), zap.Int("entries", len(cached)))
		return cached, nil
	}

	fetchCtx := ctx
	if e.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()
	}

	entries, err := fetcher.FetchCatalog(fetchCtx, filters)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Put(key, entries); err != nil {
		logging.Logger().Warn("failed to cache provider catalog",
			zap.String("provider", string(provider)), zap.Error(err))
	}
	return entries, nil
}

// Refresh drops cached catalogs and fetches every provider live. Used by
// the refresh command and after credential changes.
func (e *Engine) Refresh(ctx context.Context) (map[catalog.Provider]int, error) {
	counts := make(map[catalog.Provider]int)
	var mu sync.Mutex
	failures := make(map[catalog.Provider]string)

	pool := pond.NewPool(e.maxConcurrent)
	for provider, fetcher := range e.fetchers {
		pool.Submit(func() {
			filters := pricing.Filters{}
			key := cacheKey(provider, filters)

			fetchCtx := ctx
			if e.fetchTimeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
				defer cancel()
			}

			entries, err := fetcher.FetchCatalog(fetchCtx, filters)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[provider] = err.Error()
				return
			}
			if err := e.cache.Put(key, entries); err != nil {
				failures[provider] = err.Error()
				return
			}
			counts[provider] = len(entries)
		})
	}
	pool.StopAndWait()

	if len(counts) == 0 && len(failures) > 0 {
		return nil, ErrAllProvidersUnavailable
	}
	return counts, nil
}

// CheckResult reports the outcome of one provider connectivity check
type CheckResult struct {
	SampleSize int
	Err        error
}

// CheckProviders runs a sample fetch against every provider to verify
// credentials and connectivity without a full catalog fetch. The cache is
// bypassed so the check exercises the live API.
func (e *Engine) CheckProviders(ctx context.Context) map[catalog.Provider]CheckResult {
	results := make(map[catalog.Provider]CheckResult, len(e.fetchers))
	var mu sync.Mutex

	pool := pond.NewPool(e.maxConcurrent)
	for provider, fetcher := range e.fetchers {
		pool.Submit(func() {
			fetchCtx := ctx
			if e.fetchTimeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
				defer cancel()
			}

			entries, err := fetcher.FetchSample(fetchCtx)

			mu.Lock()
			results[provider] = CheckResult{SampleSize: len(entries), Err: err}
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	return results
}

func cacheKey(provider catalog.Provider, filters pricing.Filters) string {
	parts := []string{string(provider), "catalog"}
	if filters.PricingModel != "" {
		parts = append(parts, string(filters.PricingModel))
	}
	return pricecache.Key(parts...)
}

// applyPostFilters restricts hardware-matched entries by the optional
// provider/region/zone constraints. Applied after hardware matching so an
// empty result still means "nothing satisfies" rather than "filtered out".
func applyPostFilters(entries []catalog.PriceEntry, req catalog.ResourceRequirement) []catalog.PriceEntry {
	if req.Provider == "" && req.Region == "" && req.Zone == "" {
		return entries
	}

	var filtered []catalog.PriceEntry
	for _, entry := range entries {
		if req.Provider != "" && entry.Provider != req.Provider {
			continue
		}
		if req.Region != "" && entry.Region != req.Region {
			continue
		}
		if req.Zone != "" && entry.Zone != req.Zone {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func regionLatencyIndex(latencies []catalog.RegionLatency) map[catalog.Provider]map[string]float64 {
	index := make(map[catalog.Provider]map[string]float64)
	for _, rl := range latencies {
		if index[rl.Provider] == nil {
			index[rl.Provider] = make(map[string]float64)
		}
		index[rl.Provider][rl.Region] = rl.LatencyMs
	}
	return index
}

// buildCandidates joins matched entries with their region latencies, folds
// the estimated storage cost into the hourly price, and tags categories
func buildCandidates(entries []catalog.PriceEntry, req catalog.ResourceRequirement, latencyByRegion map[catalog.Provider]map[string]float64) []catalog.VMCandidate {
	candidates := make([]catalog.VMCandidate, 0, len(entries))
	for _, entry := range entries {
		latencyMs := unknownRegionLatencyMs
		if regions, ok := latencyByRegion[entry.Provider]; ok {
			if ms, ok := regions[entry.Region]; ok {
				latencyMs = ms
			}
		}

		// Bundled storage is already in the list price; attachable
		// storage gets an estimated surcharge
		price := entry.PricePerHour
		if entry.Storage == nil {
			price += pricing.StorageHourlyCost(entry.Provider, req.StorageType, req.StorageGB)
		}
		entry.PricePerHour = price

		candidates = append(candidates, catalog.VMCandidate{
			PriceEntry: entry,
			LatencyMs:  latencyMs,
			Category:   catalog.Categorize(entry.Provider, entry.InstanceType, entry.GPU),
		})
	}
	return candidates
}
