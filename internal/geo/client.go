// Package geo resolves the road distance between two place names.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/movario/moving-ai-platform/pkg/logging"
)

// ErrNotConfigured indicates no routing backend is configured.
var ErrNotConfigured = errors.New("geo: distance service not configured")

// DistanceClient resolves a distance in kilometers between two places.
// Callers must tolerate failure and substitute their own fallback.
type DistanceClient interface {
	DistanceKm(ctx context.Context, from, to string) (float64, error)
}

// HTTPClient talks to a routing service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPClient creates a distance client. Returns nil when baseURL is empty
// so callers fall back to their fixed default distance.
func NewHTTPClient(baseURL string, logger *logging.Logger) *HTTPClient {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type routeResponse struct {
	DistanceKm float64 `json:"distance_km"`
}

// DistanceKm queries the routing service for the road distance between two
// place names.
func (c *HTTPClient) DistanceKm(ctx context.Context, from, to string) (float64, error) {
	if c == nil {
		return 0, ErrNotConfigured
	}
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return 0, errors.New("geo: both places are required")
	}

	endpoint := fmt.Sprintf("%s/route?from=%s&to=%s",
		c.baseURL, url.QueryEscape(from), url.QueryEscape(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("geo: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("geo: route lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("geo: route lookup returned %d", resp.StatusCode)
	}

	var decoded routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("geo: decode route response: %w", err)
	}
	if decoded.DistanceKm <= 0 {
		return 0, errors.New("geo: route response had no distance")
	}
	return decoded.DistanceKm, nil
}
