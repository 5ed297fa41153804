package latency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"vmbroker/internal/logging"
)

// defaultLocation is returned when an IP cannot be geolocated (private
// ranges, lookup failures). San Francisco keeps US-west regions near the
// top, which matches where most of the historic traffic originated.
var defaultLocation = GeoPoint{
	Lat:     37.7749,
	Lon:     -122.4194,
	City:    "San Francisco",
	Country: "United States",
}

// LocationResolver resolves an IP address to a geographic coordinate
type LocationResolver interface {
	Resolve(ctx context.Context, ip string) (GeoPoint, error)
}

// IPAPIResolver resolves locations using the ip-api.com JSON endpoint.
// Failures never block the pipeline: the resolver falls back to a default
// location instead of returning an error.
type IPAPIResolver struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewIPAPIResolver creates a resolver with retry-capable HTTP transport
func NewIPAPIResolver() *IPAPIResolver {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil

	return &IPAPIResolver{
		client:  client,
		baseURL: "http://ip-api.com/json",
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
	Country string  `json:"country"`
}

// Resolve looks up the coordinate for an IP address. Private and loopback
// addresses resolve to the default location immediately.
func (r *IPAPIResolver) Resolve(ctx context.Context, ip string) (GeoPoint, error) {
	if isPrivateOrLocal(ip) {
		return defaultLocation, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", r.baseURL, ip), nil)
	if err != nil {
		return defaultLocation, nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		logging.Logger().Warn("geo-ip lookup failed, using default location",
			zap.String("ip", ip), zap.Error(err))
		return defaultLocation, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return defaultLocation, nil
	}

	var parsed ipAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Status != "success" {
		logging.Logger().Warn("geo-ip lookup returned no result, using default location",
			zap.String("ip", ip))
		return defaultLocation, nil
	}

	return GeoPoint{
		Lat:     parsed.Lat,
		Lon:     parsed.Lon,
		City:    parsed.City,
		Country: parsed.Country,
	}, nil
}

func isPrivateOrLocal(ip string) bool {
	if ip == "" || ip == "localhost" {
		return true
	}
	// Strip a port if one is attached
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified()
}
