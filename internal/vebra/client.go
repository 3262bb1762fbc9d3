package vebra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/florianilch/vebra-proxy/internal/credentials"
)

// Client fetches listings resources with a cached session token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	acquirer   *Acquirer
	recorder   Recorder
}

// NewClient creates a Client that authenticates with creds.
// No I/O is performed until the first request.
func NewClient(creds credentials.Store, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("missing credentials store")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.store == nil {
		cfg.store = NewMemoryStore()
	}

	base, err := url.Parse(cfg.baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.baseURL)
	}
	if len(cfg.tokenHeaders) == 0 {
		return nil, fmt.Errorf("at least one token header is required")
	}
	switch cfg.encoding {
	case TokenEncodingBasic, TokenEncodingRaw:
	default:
		return nil, fmt.Errorf("unsupported token encoding: %s", cfg.encoding)
	}

	acquirer := newAcquirer(creds, cfg)

	return &Client{
		baseURL:    acquirer.baseURL,
		httpClient: cfg.httpClient,
		acquirer:   acquirer,
		recorder:   cfg.recorder,
	}, nil
}

// Acquirer returns the token acquirer backing the client.
func (c *Client) Acquirer() *Acquirer {
	return c.acquirer
}

// Branches lists the branches of the feed.
func (c *Client) Branches(ctx context.Context) (map[string]any, error) {
	return c.Fetch(ctx, "branches", "/branch")
}

// BranchProperties lists the properties of the branch with the given client ID.
func (c *Client) BranchProperties(ctx context.Context, clientID string) (map[string]any, error) {
	return c.Fetch(ctx, "properties", "/branch/"+url.PathEscape(clientID)+"/property")
}

// Property returns the details of a single property.
func (c *Client) Property(ctx context.Context, propertyID string) (map[string]any, error) {
	return c.Fetch(ctx, "property", "/property/"+url.PathEscape(propertyID))
}

// PropertyFiles lists the files (images, floorplans, brochures) of a property.
func (c *Client) PropertyFiles(ctx context.Context, propertyID string) (map[string]any, error) {
	return c.Fetch(ctx, "property-files", "/property/"+url.PathEscape(propertyID)+"/files")
}

// Fetch GETs path relative to the base URL and decodes the XML response.
//
// A 401 invalidates the token, reacquires once and retries once. Any non-2xx
// response after that is returned as *UpstreamError.
func (c *Client) Fetch(ctx context.Context, resource, path string) (map[string]any, error) {
	token, err := c.acquirer.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.get(ctx, resource, path, token)
	if err != nil {
		return nil, err
	}

	retried := false
	if status == http.StatusUnauthorized {
		slog.InfoContext(ctx, "token rejected, clearing cache and retrying", "resource", resource)
		if err := c.acquirer.Invalidate(ctx, token); err != nil {
			return nil, err
		}

		token, err = c.acquirer.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("reauthenticating: %w", err)
		}

		status, body, err = c.get(ctx, resource, path, token)
		if err != nil {
			return nil, err
		}
		retried = true
	}

	if status < 200 || status > 299 {
		slog.ErrorContext(ctx, "upstream error", "resource", resource, "status", status, "retried", retried)
		return nil, &UpstreamError{Status: status, Body: string(body), Retried: retried}
	}

	data, err := DecodeXML(body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", resource, err)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, resource, path string, token *oauth2.Token) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building %s request: %w", resource, err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.8")

	slog.DebugContext(ctx, "fetching", "resource", resource, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request: %w", resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading %s response: %w", resource, err)
	}
	c.recorder.RecordUpstream(resource, resp.StatusCode)
	return resp.StatusCode, body, nil
}
