package http

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
)

// ContentURL returns the download URL for a digest on a mirror.
func ContentURL(baseURL, algorithm, digest, region string) string {
	u := joinURL(baseURL, algorithm, digest)
	if region != "" {
		u += "?" + url.Values{"region": {region}}.Encode()
	}
	return u
}

// Fetch starts a download of the content addressed by algorithm and digest
// from one mirror. The caller must close the returned body.
func (c *Client) Fetch(ctx context.Context, baseURL, algorithm, digest, region string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, nethttp.MethodGet, ContentURL(baseURL, algorithm, digest, region), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if !success(resp.StatusCode) {
		drain(resp)
		return nil, fmt.Errorf("fetch %s: %w: %s", req.URL.Redacted(), ErrStatus, resp.Status)
	}
	return resp.Body, nil
}
