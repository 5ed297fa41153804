package catalog

import "testing"

func TestNormalizeRegion(t *testing.T) {
	tests := []struct {
		provider Provider
		region   string
		want     string
	}{
		{ProviderAWS, "us-east-1", "us-east1"},
		{ProviderAWS, "eu-central-1", "europe-central1"},
		{ProviderAWS, "ap-southeast-2", "australia-southeast1"},
		{ProviderAWS, "me-south-1", "me-south-1"}, // unmapped passes through
		{ProviderGCP, "us-central1", "us-central1"},
		{ProviderDigitalOcean, "nyc3", "nyc3"},
	}
	for _, tt := range tests {
		if got := NormalizeRegion(tt.provider, tt.region); got != tt.want {
			t.Errorf("NormalizeRegion(%v, %q) = %q, want %q", tt.provider, tt.region, got, tt.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		provider     Provider
		instanceType string
		gpu          *GPUSpec
		want         Category
	}{
		{ProviderAWS, "m5.large", nil, CategoryGeneralPurpose},
		{ProviderAWS, "t3.micro", nil, CategoryGeneralPurpose},
		{ProviderAWS, "c5.xlarge", nil, CategoryComputeOptimized},
		{ProviderAWS, "r5.2xlarge", nil, CategoryMemoryOptimized},
		{ProviderAWS, "i3.large", nil, CategoryStorageOptimized},
		{ProviderAWS, "inf1.xlarge", nil, CategoryGPU},
		{ProviderAWS, "p3.2xlarge", &GPUSpec{Type: "V100", Count: 1}, CategoryGPU},
		{ProviderGCP, "e2-standard-4", nil, CategoryGeneralPurpose},
		{ProviderGCP, "c2-standard-8", nil, CategoryComputeOptimized},
		{ProviderGCP, "m2-ultramem-208", nil, CategoryMemoryOptimized},
		{ProviderGCP, "a2-highgpu-1g", &GPUSpec{Type: "A100", Count: 1}, CategoryGPU},
		{ProviderDigitalOcean, "s-2vcpu-4gb", nil, CategoryGeneralPurpose},
		{ProviderDigitalOcean, "so-2vcpu-16gb", nil, CategoryStorageOptimized},
		{ProviderDigitalOcean, "c-4", nil, CategoryComputeOptimized},
		{Provider("Azure"), "D4s_v3", nil, CategoryOther},
	}
	for _, tt := range tests {
		if got := Categorize(tt.provider, tt.instanceType, tt.gpu); got != tt.want {
			t.Errorf("Categorize(%v, %q) = %v, want %v", tt.provider, tt.instanceType, got, tt.want)
		}
	}
}
