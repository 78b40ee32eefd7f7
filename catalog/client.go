// Package catalog reads and writes the Supabase `links` index that mirrors
// on-chain state for the storefront. The index is reached over PostgREST;
// this client owns no schema, it only speaks the REST dialect the web app
// already uses.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when no link matches the requested slug.
var ErrNotFound = errors.New("link not found")

// Link is one row of the `links` index.
type Link struct {
	Slug     string `json:"slug"`
	IDHash   string `json:"id_hash"`
	CID      string `json:"cid"`
	PriceWei string `json:"price_wei,omitempty"`
	PriceUsd string `json:"price_usd,omitempty"`
	Creator  string `json:"creator,omitempty"`
}

// Config configures the catalog client.
type Config struct {
	// URL is the Supabase project base URL (without /rest/v1).
	URL string

	// APIKey is the Supabase anon or service key, sent as both apikey and
	// bearer token per PostgREST convention.
	APIKey string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 10s).
	Timeout time.Duration
}

// Client is a PostgREST client for the links index.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a catalog client.
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    config.URL,
		apiKey:     config.APIKey,
		httpClient: httpClient,
	}
}

// GetLink fetches the index row for a slug. Returns ErrNotFound when the
// slug has no entry.
func (c *Client) GetLink(ctx context.Context, slug string) (*Link, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/links?slug=eq.%s&select=*&limit=1", c.baseURL, url.QueryEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, body)
	}

	var rows []Link
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// LinkExists reports whether a slug has an index entry.
func (c *Client) LinkExists(ctx context.Context, slug string) (bool, error) {
	_, err := c.GetLink(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertLink writes a new index row.
func (c *Client) InsertLink(ctx context.Context, link Link) error {
	payload, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to encode link: %w", err)
	}

	endpoint := c.baseURL + "/rest/v1/links"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create catalog request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("catalog insert returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
