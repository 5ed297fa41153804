package lifecycle

import (
	"context"
	"fmt"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
)

// New builds the manager for a provider from stored credentials. The region
// is required for AWS, where the EC2 client is region-scoped; GCP and
// DigitalOcean address regions per call.
func New(ctx context.Context, provider catalog.Provider, store *credentials.Store, region string) (Manager, error) {
	switch provider {
	case catalog.ProviderAWS:
		creds, err := store.LoadAWS()
		if err != nil {
			return nil, err
		}
		if region == "" {
			return nil, fmt.Errorf("aws instance operations require a region")
		}
		return NewAWSManager(ctx, *creds, region)
	case catalog.ProviderGCP:
		creds, err := store.LoadGCP()
		if err != nil {
			return nil, err
		}
		return NewGCPManager(ctx, *creds)
	case catalog.ProviderDigitalOcean:
		creds, err := store.LoadDigitalOcean()
		if err != nil {
			return nil, err
		}
		return NewDOManager(*creds), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
