package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client invokes a remotely deployed migration endpoint. It satisfies
// the same contract as Migrator, so the progress controller can use
// either interchangeably.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the endpoint URL, e.g.
// "https://example.org/.netlify/functions/migrateUser".
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetHTTPClient swaps the underlying HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// MigrateUser posts the migration request and decodes the summary.
func (c *Client) MigrateUser(ctx context.Context, fromUserID, toUserID string) (*Result, error) {
	body, err := json.Marshal(migrationRequest{FromUserID: fromUserID, ToUserID: toUserID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("migration request failed: %s - %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode migration response: %w", err)
	}
	return &result, nil
}
