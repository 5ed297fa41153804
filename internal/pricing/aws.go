package pricing

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"go.uber.org/zap"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
	"vmbroker/internal/logging"
)

// The AWS Pricing API is only served from us-east-1
const awsPricingAPIRegion = "us-east-1"

// Safety cap on GetProducts pagination; a full EC2 catalog fits well below it
const awsMaxPricePages = 200

// awsPricingAPI is the slice of the Pricing client this fetcher needs.
// Satisfied by *pricing.Client and by test doubles.
type awsPricingAPI interface {
	GetProducts(ctx context.Context, params *awspricing.GetProductsInput, optFns ...func(*awspricing.Options)) (*awspricing.GetProductsOutput, error)
}

// AWSFetcher retrieves the EC2 on-demand catalog from the AWS Pricing API.
// Spot entries are derived from on-demand prices with regional discount
// factors since the Pricing API carries no usable spot data.
type AWSFetcher struct {
	client  awsPricingAPI
	regions []string
}

// NewAWSFetcher builds a fetcher authenticated with static credentials.
// regions lists the AWS-native region codes to fetch.
func NewAWSFetcher(ctx context.Context, creds credentials.AWSCredentials, regions []string) (*AWSFetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(awsPricingAPIRegion),
		awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, &PriceFetchError{Provider: catalog.ProviderAWS, Cause: err}
	}

	return &AWSFetcher{
		client:  awspricing.NewFromConfig(cfg),
		regions: regions,
	}, nil
}

func (f *AWSFetcher) Provider() catalog.Provider {
	return catalog.ProviderAWS
}

// FetchCatalog fetches priced EC2 offerings for the configured regions.
// A region filter restricts the fetch to one region; a pricing-model filter
// restricts the emitted entries.
func (f *AWSFetcher) FetchCatalog(ctx context.Context, filters Filters) ([]catalog.PriceEntry, error) {
	regions := f.regions
	if filters.Region != "" {
		regions = []string{filters.Region}
	}

	var entries []catalog.PriceEntry
	fetchedAt := time.Now()

	for _, region := range regions {
		regionEntries, err := f.fetchRegion(ctx, region, fetchedAt, awsMaxPricePages)
		if err != nil {
			return nil, err
		}
		entries = append(entries, regionEntries...)
	}

	if len(entries) == 0 {
		return nil, &PriceFetchError{Provider: catalog.ProviderAWS, Cause: ErrNoCatalog}
	}

	if filters.PricingModel == "" || filters.PricingModel == catalog.PricingSpot {
		entries = append(entries, deriveSpotEntries(entries)...)
	}
	if filters.PricingModel != "" {
		// a pricing model with no offerings is an empty result, not an outage
		entries = filterByModel(entries, filters.PricingModel)
	}
	return entries, nil
}

// FetchSample fetches one page of the first configured region, a cheap
// check of credentials and connectivity
func (f *AWSFetcher) FetchSample(ctx context.Context) ([]catalog.PriceEntry, error) {
	if len(f.regions) == 0 {
		return nil, &PriceFetchError{Provider: catalog.ProviderAWS, Cause: ErrNoCatalog}
	}
	return f.fetchRegion(ctx, f.regions[0], time.Now(), 1)
}

func (f *AWSFetcher) fetchRegion(ctx context.Context, region string, fetchedAt time.Time, maxPages int) ([]catalog.PriceEntry, error) {
	input := &awspricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		MaxResults:  aws.Int32(100),
		Filters: []pricingtypes.Filter{
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("ServiceCode"), Value: aws.String("AmazonEC2")},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("regionCode"), Value: aws.String(region)},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("operatingSystem"), Value: aws.String("Linux")},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("tenancy"), Value: aws.String("Shared")},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("preInstalledSw"), Value: aws.String("NA")},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("capacitystatus"), Value: aws.String("Used")},
		},
	}

	var entries []catalog.PriceEntry
	seen := make(map[string]bool)

	for page := 0; page < maxPages; page++ {
		output, err := f.client.GetProducts(ctx, input)
		if err != nil {
			return nil, &PriceFetchError{Provider: catalog.ProviderAWS, Cause: err}
		}

		for _, item := range output.PriceList {
			entry, ok := parseAWSPriceItem(item, region, fetchedAt)
			if !ok || seen[entry.InstanceType] {
				continue
			}
			seen[entry.InstanceType] = true
			entries = append(entries, entry)
		}

		if output.NextToken == nil || *output.NextToken == "" {
			break
		}
		input.NextToken = output.NextToken
		if page == maxPages-1 && maxPages == awsMaxPricePages {
			logging.Logger().Warn("aws pricing pagination hit safety limit, catalog may be incomplete",
				zap.String("region", region), zap.Int("maxPages", maxPages))
		}
	}

	logging.Logger().Debug("fetched aws region catalog",
		zap.String("region", region), zap.Int("entries", len(entries)))
	return entries, nil
}

// awsPriceItem mirrors the slice of the Pricing API product JSON this
// fetcher reads
type awsPriceItem struct {
	Product struct {
		Attributes struct {
			InstanceType string `json:"instanceType"`
			VCPU         string `json:"vcpu"`
			Memory       string `json:"memory"`
			GPU          string `json:"gpu"`
			GPUMemory    string `json:"gpuMemory"`
		} `json:"attributes"`
	} `json:"product"`
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

func parseAWSPriceItem(raw string, region string, fetchedAt time.Time) (catalog.PriceEntry, bool) {
	var item awsPriceItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return catalog.PriceEntry{}, false
	}

	attrs := item.Product.Attributes
	if attrs.InstanceType == "" || attrs.VCPU == "" || attrs.Memory == "" {
		return catalog.PriceEntry{}, false
	}

	vcpu, err := strconv.Atoi(attrs.VCPU)
	if err != nil || vcpu <= 0 {
		return catalog.PriceEntry{}, false
	}
	ramGB := parseGiB(attrs.Memory)
	if ramGB <= 0 {
		return catalog.PriceEntry{}, false
	}

	price, ok := onDemandHourlyUSD(item)
	if !ok {
		return catalog.PriceEntry{}, false
	}

	entry := catalog.PriceEntry{
		Provider:     catalog.ProviderAWS,
		InstanceType: attrs.InstanceType,
		Region:       catalog.NormalizeRegion(catalog.ProviderAWS, region),
		VCPU:         vcpu,
		RAMGB:        ramGB,
		PricePerHour: price,
		Currency:     "USD",
		PricingModel: catalog.PricingOnDemand,
		FetchedAt:    fetchedAt,
	}
	entry.GPU = awsGPUSpec(attrs.InstanceType, attrs.GPU, attrs.GPUMemory)
	return entry, true
}

func onDemandHourlyUSD(item awsPriceItem) (float64, bool) {
	for _, offer := range item.Terms.OnDemand {
		for _, dim := range offer.PriceDimensions {
			if dim.Unit != "Hrs" {
				continue
			}
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(usd, 64)
			if err == nil && price > 0 {
				return price, true
			}
		}
	}
	return 0, false
}

// awsGPUSpec infers attached GPUs from the gpu/gpuMemory attributes plus
// the instance family when the attributes are absent
func awsGPUSpec(instanceType, gpuAttr, gpuMemoryAttr string) *catalog.GPUSpec {
	count, _ := strconv.Atoi(gpuAttr)
	gpuType := AWSFamilyGPUType(instanceType)
	if count == 0 && gpuType == "" {
		return nil
	}
	if count == 0 {
		count = 1
	}
	if gpuType == "" {
		gpuType = "gpu"
	}

	vram := parseGiB(gpuMemoryAttr)
	if vram > 0 && count > 0 {
		// gpuMemory is the aggregate across all attached GPUs
		vram /= float64(count)
	} else {
		vram = EstimateVRAM(gpuType)
	}

	return &catalog.GPUSpec{Type: gpuType, Count: count, VRAMGB: vram}
}

// parseGiB parses attribute strings like "16 GiB" into a float
func parseGiB(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "GiB"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// deriveSpotEntries produces spot-priced variants of on-demand entries
func deriveSpotEntries(entries []catalog.PriceEntry) []catalog.PriceEntry {
	spot := make([]catalog.PriceEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.PricingModel != catalog.PricingOnDemand {
			continue
		}
		entry.PricingModel = catalog.PricingSpot
		entry.PricePerHour = SpotPrice(entry.Region, entry.PricePerHour)
		spot = append(spot, entry)
	}
	return spot
}

func filterByModel(entries []catalog.PriceEntry, model catalog.PricingModel) []catalog.PriceEntry {
	filtered := entries[:0]
	for _, entry := range entries {
		if entry.PricingModel == model {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
