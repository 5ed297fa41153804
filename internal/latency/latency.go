package latency

import (
	"math"
	"sort"

	"vmbroker/internal/catalog"
)

const earthRadiusKm = 6371

// GeoPoint is a geographic coordinate resolved for a user
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// regionInfo pins a provider region to a coordinate for distance estimation
type regionInfo struct {
	Provider    catalog.Provider
	Region      string
	DisplayName string
	Lat         float64
	Lon         float64
}

// regionCoordinates is the static table of known provider regions. Datacenter
// coordinates are approximate (metro-level) which is plenty for a
// great-circle latency estimate.
var regionCoordinates = []regionInfo{
	// GCP regions
	{catalog.ProviderGCP, "us-central1", "Iowa", 41.2619, -95.8608},
	{catalog.ProviderGCP, "us-east1", "South Carolina", 33.1958, -80.0131},
	{catalog.ProviderGCP, "us-east4", "Northern Virginia", 39.0438, -77.4874},
	{catalog.ProviderGCP, "us-west1", "Oregon", 45.6075, -121.1786},
	{catalog.ProviderGCP, "us-west2", "Los Angeles", 34.0522, -118.2437},
	{catalog.ProviderGCP, "us-west3", "Salt Lake City", 40.7608, -111.8910},
	{catalog.ProviderGCP, "us-west4", "Las Vegas", 36.1699, -115.1398},
	{catalog.ProviderGCP, "europe-west1", "Belgium", 50.4501, 3.8181},
	{catalog.ProviderGCP, "europe-west2", "London", 51.5074, -0.1278},
	{catalog.ProviderGCP, "europe-west3", "Frankfurt", 50.1109, 8.6821},
	{catalog.ProviderGCP, "europe-west4", "Netherlands", 53.4386, 6.8355},
	{catalog.ProviderGCP, "asia-east1", "Taiwan", 24.0717, 120.5624},
	{catalog.ProviderGCP, "asia-northeast1", "Tokyo", 35.6895, 139.6917},
	{catalog.ProviderGCP, "asia-southeast1", "Singapore", 1.3521, 103.8198},
	{catalog.ProviderGCP, "australia-southeast1", "Sydney", -33.8688, 151.2093},

	// AWS regions (normalized codes, see catalog.NormalizeRegion)
	{catalog.ProviderAWS, "us-east1", "N. Virginia", 39.0438, -77.4874},
	{catalog.ProviderAWS, "us-east2", "Ohio", 40.4173, -82.7077},
	{catalog.ProviderAWS, "us-west1", "N. California", 37.7749, -122.4194},
	{catalog.ProviderAWS, "us-west2", "Oregon", 45.8399, -119.7006},
	{catalog.ProviderAWS, "europe-west1", "Ireland", 53.3498, -6.2603},
	{catalog.ProviderAWS, "europe-west2", "London", 51.5074, -0.1278},
	{catalog.ProviderAWS, "europe-central1", "Frankfurt", 50.1109, 8.6821},
	{catalog.ProviderAWS, "asia-northeast1", "Tokyo", 35.6895, 139.6917},
	{catalog.ProviderAWS, "asia-southeast1", "Singapore", 1.3521, 103.8198},
	{catalog.ProviderAWS, "australia-southeast1", "Sydney", -33.8688, 151.2093},

	// DigitalOcean regions
	{catalog.ProviderDigitalOcean, "nyc1", "New York 1", 40.7128, -74.0060},
	{catalog.ProviderDigitalOcean, "nyc3", "New York 3", 40.7128, -74.0060},
	{catalog.ProviderDigitalOcean, "sfo3", "San Francisco 3", 37.7749, -122.4194},
	{catalog.ProviderDigitalOcean, "tor1", "Toronto 1", 43.6532, -79.3832},
	{catalog.ProviderDigitalOcean, "lon1", "London 1", 51.5074, -0.1278},
	{catalog.ProviderDigitalOcean, "ams3", "Amsterdam 3", 52.3676, 4.9041},
	{catalog.ProviderDigitalOcean, "fra1", "Frankfurt 1", 50.1109, 8.6821},
	{catalog.ProviderDigitalOcean, "sgp1", "Singapore 1", 1.3521, 103.8198},
	{catalog.ProviderDigitalOcean, "blr1", "Bangalore 1", 12.9716, 77.5946},
	{catalog.ProviderDigitalOcean, "syd1", "Sydney 1", -33.8688, 151.2093},
}

// HaversineKm computes the great-circle distance between two coordinates
// in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// EstimateLatencyFromDistance converts a distance to an estimated round-trip
// latency in milliseconds: a 5ms processing base, a linear distance term,
// and a sublinear routing overhead. Deliberately coarse; the estimates only
// need a stable ordering, not accuracy. Monotonically non-decreasing.
func EstimateLatencyFromDistance(km float64) float64 {
	const baseLatencyMs = 5.0

	distanceLatency := km * 0.5
	overhead := math.Sqrt(km) * 0.2

	return baseLatencyMs + distanceLatency + overhead
}

// RegionLatencies estimates the latency from a user location to every known
// provider region, sorted ascending by latency
func RegionLatencies(loc GeoPoint) []catalog.RegionLatency {
	latencies := make([]catalog.RegionLatency, 0, len(regionCoordinates))
	for _, region := range regionCoordinates {
		km := HaversineKm(loc.Lat, loc.Lon, region.Lat, region.Lon)
		latencies = append(latencies, catalog.RegionLatency{
			Provider:    region.Provider,
			Region:      region.Region,
			DisplayName: region.DisplayName,
			LatencyMs:   EstimateLatencyFromDistance(km),
		})
	}

	sort.SliceStable(latencies, func(i, j int) bool {
		return latencies[i].LatencyMs < latencies[j].LatencyMs
	})
	return latencies
}
