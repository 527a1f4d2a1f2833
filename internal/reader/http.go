package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient makes REST calls to the adapter's HTTP mirror.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Items fetches /api/items.
func (c *HTTPClient) Items(ctx context.Context) ([]ItemView, error) {
	var out []ItemView
	if err := c.get(ctx, "/api/items", func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&out)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Health fetches /health and fails unless the mirror answers OK.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.get(ctx, "/health", func(body io.Reader) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(data)) != "OK" {
			return fmt.Errorf("unhealthy: %q", string(data))
		}
		return nil
	})
}

func (c *HTTPClient) get(ctx context.Context, path string, decode func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return decode(resp.Body)
}
