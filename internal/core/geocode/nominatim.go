// Package geocode resolves (city, country) pairs to coordinates through
// the Nominatim search API. Calls pass through the service's rate limiter
// and circuit breaker; failures degrade to country centroids upstream.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/platform/breaker"
	"github.com/osintops/threatpipe/internal/platform/observability"
	"github.com/osintops/threatpipe/internal/platform/ratelimit"
)

const (
	serviceName    = "nominatim"
	requestTimeout = 10 * time.Second
)

// ErrNoResult means the query returned no candidates.
var ErrNoResult = errors.New("no geocoding result")

var errHTTPStatus = errors.New("unexpected HTTP status")

// Result is a resolved coordinate pair.
type Result struct {
	Latitude  float64
	Longitude float64
}

// Config tunes the client.
type Config struct {
	BaseURL         string
	UserAgent       string
	TokensPerMinute int
	WaitCap         time.Duration
	Breaker         breaker.Config
}

// Client is the guarded Nominatim client, a process-wide singleton.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *ratelimit.Limiter
	brk        *breaker.Breaker
	logger     *zerolog.Logger
}

// New creates a geocoding client.
func New(cfg Config, logger *zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		limiter:    ratelimit.PerMinute(serviceName, cfg.TokensPerMinute, cfg.WaitCap),
		brk:        breaker.New(serviceName, cfg.Breaker, logger),
		logger:     logger,
	}
}

// nominatim returns lat/lon as strings.
type searchHit struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves a (city, country) pair. city may be empty for a
// country-level lookup.
func (c *Client) Geocode(ctx context.Context, city, country string) (*Result, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			c.brk.Record(err)
		}

		observability.GeocodeRequests.WithLabelValues("error").Inc()

		return nil, err
	}

	var result *Result

	// An empty candidate list is a healthy reply; only transport and
	// protocol errors count against the breaker.
	err := c.brk.Do(ctx, func(callCtx context.Context) error {
		hit, callErr := c.search(callCtx, city, country)
		if callErr != nil && !errors.Is(callErr, ErrNoResult) {
			return callErr
		}

		result = hit

		return nil
	})
	if err != nil {
		observability.GeocodeRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	if result == nil {
		observability.GeocodeRequests.WithLabelValues("miss").Inc()
		return nil, ErrNoResult
	}

	observability.GeocodeRequests.WithLabelValues("hit").Inc()

	return result, nil
}

func (c *Client) search(ctx context.Context, city, country string) (*Result, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("country", country)

	if city != "" {
		q.Set("city", city)
	}

	endpoint := c.baseURL + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: %w: %d", errHTTPStatus, resp.StatusCode)
	}

	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}

	if len(hits) == 0 {
		return nil, ErrNoResult
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse lat: %w", err)
	}

	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse lon: %w", err)
	}

	return &Result{Latitude: lat, Longitude: lon}, nil
}
