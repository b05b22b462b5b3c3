// Package rest implements the identity capability surface against the
// provider's account HTTP API. Sessions are cookie-scoped, so the client
// keeps a cookie jar for the lifetime of the process.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cdcmanual/progresskit/pkg/identity"
)

// Client talks to the identity provider's account API.
type Client struct {
	endpoint   string
	project    string
	httpClient *http.Client
}

var _ identity.Provider = (*Client)(nil)

// NewClient creates an account API client for the given project.
func NewClient(endpoint, project string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		project:  project,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

// SetHTTPClient swaps the underlying HTTP client. The replacement should
// carry a cookie jar or session calls will not stick.
func (c *Client) SetHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

func (c *Client) request(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Appwrite-Project", c.project)

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
		return fmt.Errorf("account request failed: %s %s - %s", resp.Status, path, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Get returns the current user.
func (c *Client) Get(ctx context.Context) (*identity.User, error) {
	var user identity.User
	if err := c.request(ctx, http.MethodGet, "/account", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateAnonymousSession starts a session with no credentials.
func (c *Client) CreateAnonymousSession(ctx context.Context) (*identity.Session, error) {
	var session identity.Session
	if err := c.request(ctx, http.MethodPost, "/account/sessions/anonymous", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*identity.Session, error) {
	var session identity.Session
	if err := c.request(ctx, http.MethodGet, "/account/sessions/"+sessionID, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateOAuth2Session starts the OAuth flow. In a browser the provider
// answers with a redirect; here the call only has to be accepted.
func (c *Client) CreateOAuth2Session(ctx context.Context, provider, successURL, failureURL string) error {
	values := url.Values{}
	values.Set("success", successURL)
	values.Set("failure", failureURL)
	path := "/account/sessions/oauth2/" + url.PathEscape(provider) + "?" + values.Encode()
	return c.request(ctx, http.MethodGet, path, nil, nil)
}

// DeleteSession ends a session server-side.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.request(ctx, http.MethodDelete, "/account/sessions/"+sessionID, nil, nil)
}
