// Package rest implements the docstore capability surface against the
// document database's HTTP API. It is the server-side (API key) client
// used by the migration function; the browser-side progress script talks
// to the same endpoints through the vendor SDK.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/internal/rand"
	"github.com/cdcmanual/progresskit/pkg/docstore"
)

const requestIDLength = 16

// Client talks to the document database REST API in admin mode.
type Client struct {
	endpoint   string
	project    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ docstore.Store = (*Client)(nil)

// NewClient creates a REST document client. The endpoint is the API base
// URL; project and apiKey authenticate the server-side integration.
func NewClient(endpoint, project, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		project:  project,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second, // avoid hanging requests
		},
		log: zerolog.Nop(),
	}
}

// SetTimeout overrides the default request timeout.
func (c *Client) SetTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// SetHTTPClient swaps the underlying HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// SetLogger attaches a logger; requests are logged at debug level.
func (c *Client) SetLogger(log zerolog.Logger) *Client {
	c.log = log
	return c
}

func (c *Client) request(ctx context.Context, method, path string, queries []docstore.Query, body any, out any) error {
	u, err := url.Parse(c.endpoint + path)
	if err != nil {
		return fmt.Errorf("invalid request url: %w", err)
	}
	if len(queries) > 0 {
		values := u.Query()
		for _, q := range queries {
			values.Add("queries[]", string(q))
		}
		u.RawQuery = values.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return err
	}
	requestID := rand.NewRequestID(requestIDLength)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Appwrite-Project", c.project)
	req.Header.Set("X-Appwrite-Key", c.apiKey)
	req.Header.Set("X-Appwrite-Mode", "admin")
	req.Header.Set("X-Request-Id", requestID)

	c.log.Debug().Str("method", method).Str("path", path).Str("requestId", requestID).Msg("docstore request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("document request failed: %s %s - %s", resp.Status, path, strings.TrimSpace(string(data)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.Unmarshal(data, out)
}

func documentsPath(databaseID, collectionID string) string {
	return fmt.Sprintf("/databases/%s/collections/%s/documents", databaseID, collectionID)
}

// ListDocuments returns one page of documents matching the queries.
func (c *Client) ListDocuments(ctx context.Context, databaseID, collectionID string, queries []docstore.Query) (*docstore.List, error) {
	var list docstore.List
	if err := c.request(ctx, http.MethodGet, documentsPath(databaseID, collectionID), queries, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

type documentPayload struct {
	DocumentID  string         `json:"documentId,omitempty"`
	Data        map[string]any `json:"data"`
	Permissions []string       `json:"permissions,omitempty"`
}

// CreateDocument persists a new document with the given grants.
func (c *Client) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*docstore.Document, error) {
	payload := documentPayload{DocumentID: documentID, Data: data, Permissions: permissions}
	var doc docstore.Document
	if err := c.request(ctx, http.MethodPost, documentsPath(databaseID, collectionID), nil, payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument applies a partial update to an existing document.
func (c *Client) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any, permissions []string) (*docstore.Document, error) {
	payload := documentPayload{Data: data, Permissions: permissions}
	path := documentsPath(databaseID, collectionID) + "/" + documentID
	var doc docstore.Document
	if err := c.request(ctx, http.MethodPatch, path, nil, payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document permanently.
func (c *Client) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	path := documentsPath(databaseID, collectionID) + "/" + documentID
	return c.request(ctx, http.MethodDelete, path, nil, nil, nil)
}
