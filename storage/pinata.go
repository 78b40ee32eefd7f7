// Package storage pins encrypted link metadata to IPFS through Pinata and
// fetches it back through a gateway. Payloads are opaque to this package;
// the ciphertext bundle is produced and consumed elsewhere.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// DefaultPinEndpoint is Pinata's pinning API.
const DefaultPinEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// DefaultGatewayURL is the public gateway used for fetches.
const DefaultGatewayURL = "https://gateway.pinata.cloud/ipfs"

// Config configures the pinning client.
type Config struct {
	// JWT is the Pinata API token.
	JWT string

	// PinEndpoint overrides the pinning API URL (optional).
	PinEndpoint string

	// GatewayURL overrides the fetch gateway (optional).
	GatewayURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s).
	Timeout time.Duration
}

// Client pins and fetches content-addressed JSON blobs.
type Client struct {
	jwt         string
	pinEndpoint string
	gatewayURL  string
	httpClient  *http.Client
}

// New creates a pinning client.
func New(config Config) *Client {
	pinEndpoint := config.PinEndpoint
	if pinEndpoint == "" {
		pinEndpoint = DefaultPinEndpoint
	}
	gatewayURL := config.GatewayURL
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		jwt:         config.JWT,
		pinEndpoint: pinEndpoint,
		gatewayURL:  gatewayURL,
		httpClient:  httpClient,
	}
}

// pinResponse matches Pinata's pinFileToIPFS response.
type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin uploads a JSON payload as a pinned file and returns its CID.
func (c *Client) Pin(ctx context.Context, name string, payload interface{}) (string, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return "", fmt.Errorf("failed to write upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pinEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create pin request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("pin returned status %d: %s", resp.StatusCode, raw)
	}

	var pinned pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		return "", fmt.Errorf("failed to decode pin response: %w", err)
	}
	if pinned.IpfsHash == "" {
		return "", fmt.Errorf("pin response missing CID")
	}
	return pinned.IpfsHash, nil
}

// Fetch retrieves a pinned JSON blob by CID and decodes it into out.
func (c *Client) Fetch(ctx context.Context, cid string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/"+cid, nil)
	if err != nil {
		return fmt.Errorf("failed to create fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode pinned content: %w", err)
	}
	return nil
}
