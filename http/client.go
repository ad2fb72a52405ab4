// Package http talks to lookaside mirrors and the artifact upload service.
//
// Content is addressed as <base>/<algorithm>/<digest>. Uploads are negotiated
// in batches with <base>/upload, transferred with PUT to the signed URLs the
// service grants, and acknowledged with <base>/upload/complete/<algorithm>/<digest>.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
)

// ErrStatus is wrapped by errors for unexpected HTTP status codes.
var ErrStatus = errors.New("unexpected HTTP status")

// Client issues requests to mirrors and the upload service.
type Client struct {
	client    *nethttp.Client
	token     string
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithToken sets the bearer token attached to mirror and service requests.
// Signed upload URLs never receive the token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{client: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = nethttp.DefaultClient
	}
	return c
}

// Authenticated reports whether requests carry a bearer token.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func joinURL(base string, elems ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(elems, "/")
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func success(code int) bool {
	return code >= 200 && code < 300
}

// APIError is an error reported by the upload service.
type APIError struct {
	StatusCode  int
	Name        string
	Description string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("service error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("service error: HTTP %d: %s: %s", e.StatusCode, e.Name, e.Description)
}

func (e *APIError) Unwrap() error {
	return ErrStatus
}

// decodeAPIError builds an APIError from a failed response, using the
// service's {"error": {"name", "description"}} body when present.
func decodeAPIError(resp *nethttp.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || json.Unmarshal(data, &body) != nil {
		return apiErr
	}
	apiErr.Name = body.Error.Name
	apiErr.Description = body.Error.Description
	return apiErr
}
