// Package oracle fetches the native currency's USD exchange rate from an
// external price feed.
//
// The feed is advisory: it only skews the relay's profitability check, it
// never touches an on-chain amount. Any failure therefore degrades to a
// fixed, slightly pessimistic fallback rate instead of propagating.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFeedURL is the public CoinGecko simple-price endpoint for ETH/USD.
const DefaultFeedURL = "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd"

// DefaultFallbackRate is the conservative ETH/USD rate used when the feed is
// unreachable or returns garbage.
var DefaultFallbackRate = decimal.NewFromInt(3500)

// Config configures the price oracle client.
type Config struct {
	// URL is the feed endpoint. Defaults to DefaultFeedURL.
	URL string

	// Fallback is the rate returned on any feed failure. Defaults to
	// DefaultFallbackRate.
	Fallback decimal.Decimal

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout bounds the feed request (optional, defaults to 5s). A stalled
	// feed must not stall the relay decision.
	Timeout time.Duration
}

// Client fetches USD rates with a conservative fallback. Rates are fetched
// fresh on every call; a cached rate would make the profitability check
// stale.
type Client struct {
	url        string
	fallback   decimal.Decimal
	httpClient *http.Client
}

// New creates a price oracle client.
func New(config Config) *Client {
	url := config.URL
	if url == "" {
		url = DefaultFeedURL
	}

	fallback := config.Fallback
	if fallback.IsZero() {
		fallback = DefaultFallbackRate
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		url:        url,
		fallback:   fallback,
		httpClient: httpClient,
	}
}

// feedResponse matches CoinGecko's {"ethereum":{"usd":3500.12}} shape.
type feedResponse map[string]struct {
	USD json.Number `json:"usd"`
}

// NativeUsdRate returns the current ETH/USD rate, or the fallback on any
// failure. It never returns an error.
func (c *Client) NativeUsdRate(ctx context.Context) decimal.Decimal {
	rate, err := c.fetch(ctx)
	if err != nil {
		log.Printf("oracle: feed unavailable, using fallback %s: %v", c.fallback, err)
		return c.fallback
	}
	return rate
}

func (c *Client) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode feed response: %w", err)
	}

	asset, ok := body["ethereum"]
	if !ok {
		return decimal.Zero, fmt.Errorf("feed response missing asset")
	}

	rate, err := decimal.NewFromString(asset.USD.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("feed returned malformed rate %q: %w", asset.USD, err)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("feed returned non-positive rate %s", rate)
	}

	return rate, nil
}
