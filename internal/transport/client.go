// Package transport provides the HTTP client shared by the source
// fetchers: timeouts, per-source bearer tokens, and JSON decoding with
// API error mapping.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/softfuse/softfuse/pkg/errors"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 30 * time.Second

// Client wraps an http.Client with the conventions all source fetchers
// share.
type Client struct {
	http *http.Client
}

// New creates a transport client with the default timeout.
func New() *Client {
	return &Client{
		http: &http.Client{Timeout: DefaultTimeout},
	}
}

// NewWithHTTPClient creates a transport client around an existing
// http.Client. Tests use this to inject httptest servers.
func NewWithHTTPClient(hc *http.Client) *Client {
	return &Client{http: hc}
}

// Get performs an authenticated GET against a source endpoint. slug
// selects the bearer token from the environment; sources that need no
// authentication simply have no token set.
func (c *Client) Get(ctx context.Context, slug, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapResource("create", "request", "GET "+url, err)
	}

	req.Header.Set("Accept", "application/json")
	if token := tokenFor(slug); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		message := "request failed"
		if os.IsTimeout(err) {
			message = "request timed out"
			err = errors.ErrTimeout
		}
		return nil, &errors.APIError{
			Source:   slug,
			Message:  message,
			Endpoint: url,
			Err:      err,
		}
	}
	return resp, nil
}

// GetJSON performs a GET and decodes the response body into target.
func (c *Client) GetJSON(ctx context.Context, slug, url string, target any) error {
	resp, err := c.Get(ctx, slug, url)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, slug, target)
}

// DecodeResponse decodes a JSON response into the target structure. A
// 404 maps to ErrNotFound so callers can treat a vanished upstream
// record as absence rather than failure; any other non-200 status maps
// to an APIError.
func DecodeResponse(resp *http.Response, slug string, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", "response body", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.NewNotFoundError("record", resp.Request.URL.String())
	}
	if resp.StatusCode != http.StatusOK {
		return &errors.APIError{
			Source:     slug,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 512),
			Endpoint:   resp.Request.URL.String(),
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", "response", err)
	}
	return nil
}

// tokenFor reads the source's API token from the environment, e.g.
// SOFTFUSE_WIKIDATA_TOKEN for slug "wikidata".
func tokenFor(slug string) string {
	key := "SOFTFUSE_" + strings.ToUpper(strings.ReplaceAll(slug, "-", "_")) + "_TOKEN"
	return os.Getenv(key)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
