package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Observer is told about every finished call; status is 0 on transport errors.
type Observer func(endpoint string, status int, elapsed time.Duration, err error)

// HTTPClient provides common HTTP functionality for providers
type HTTPClient struct {
	client   *http.Client
	baseURL  string
	name     string // provider name for logging
	observer Observer
}

// NewHTTPClient creates a client whose every request is capped at timeout.
func NewHTTPClient(providerName, baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		name:    providerName,
	}
}

// SetObserver installs a hook for latency and error accounting.
func (c *HTTPClient) SetObserver(o Observer) {
	c.observer = o
}

// Timeout is the per-request ceiling.
func (c *HTTPClient) Timeout() time.Duration {
	return c.client.Timeout
}

// PostJSON makes a POST request with JSON payload
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, payload interface{}) (*HTTPResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("paygate/%s", c.name))

	// Body carries the mac, so only the route is logged.
	log.Debug().
		Str("provider", c.name).
		Str("method", http.MethodPost).
		Str("url", url).
		Msg("making HTTP request")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(endpoint, 0, time.Since(start), err)
		log.Error().
			Str("provider", c.name).
			Str("url", url).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("HTTP request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	out, err := c.handleResponse(resp)
	c.observe(endpoint, resp.StatusCode, time.Since(start), err)
	return out, err
}

func (c *HTTPClient) observe(endpoint string, status int, elapsed time.Duration, err error) {
	if c.observer != nil {
		c.observer(endpoint, status, elapsed, err)
	}
}

// handleResponse processes the HTTP response
func (c *HTTPClient) handleResponse(resp *http.Response) (*HTTPResponse, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.Debug().
		Str("provider", c.name).
		Int("status_code", resp.StatusCode).
		Int("body_length", len(body)).
		Msg("received HTTP response")

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// HTTPResponse represents an HTTP response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess checks if the response indicates success (2xx status code)
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the response body into the provided struct
func (r *HTTPResponse) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string
func (r *HTTPResponse) String() string {
	return string(r.Body)
}
