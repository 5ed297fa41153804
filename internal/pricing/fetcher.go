package pricing

import (
	"context"
	"errors"
	"fmt"

	"vmbroker/internal/catalog"
)

// Filters narrows a catalog fetch. Zero values mean "all".
type Filters struct {
	Region       string
	PricingModel catalog.PricingModel
}

// Fetcher retrieves the priced VM catalog for one provider. Implementations
// talk to the provider's pricing or compute APIs and normalize the results
// into catalog.PriceEntry records.
type Fetcher interface {
	Provider() catalog.Provider
	FetchCatalog(ctx context.Context, filters Filters) ([]catalog.PriceEntry, error)
	// FetchSample retrieves a small catalog subset, enough to verify
	// credentials and connectivity without paying for a full fetch
	FetchSample(ctx context.Context) ([]catalog.PriceEntry, error)
}

// PriceFetchError wraps a provider API failure so callers can tell which
// provider failed while the others proceed
type PriceFetchError struct {
	Provider catalog.Provider
	Cause    error
}

func (e *PriceFetchError) Error() string {
	return fmt.Sprintf("failed to fetch prices from %s: %v", e.Provider, e.Cause)
}

func (e *PriceFetchError) Unwrap() error {
	return e.Cause
}

// ErrNoCatalog is returned when a fetch succeeds at the transport level but
// yields no usable offerings
var ErrNoCatalog = errors.New("provider returned an empty catalog")
