package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"strconv"
	"time"
)

// DefaultRetryAfter is used when a 409 completion response names no delay.
const DefaultRetryAfter = 60 * time.Second

// ErrRetryLater is returned by Complete when the service answers 409: the
// signed upload URL has not expired yet and the notification must be repeated.
var ErrRetryLater = errors.New("upload URL still valid, retry later")

// UploadRequest is the batch sent to the service's upload endpoint.
type UploadRequest struct {
	Message string                `json:"message"`
	Files   map[string]UploadFile `json:"files"`
}

// UploadFile describes one file in an upload batch.
type UploadFile struct {
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	Algorithm  string `json:"algorithm"`
	Visibility string `json:"visibility"`
}

// UploadResponse lists, per filename, whether the service needs the bytes.
type UploadResponse struct {
	Files map[string]UploadGrant `json:"files"`
}

// UploadGrant carries the signed URL for a file the service does not have.
// An empty PutURL means the content is already stored.
type UploadGrant struct {
	PutURL string `json:"put_url,omitempty"`
}

// Negotiate posts an upload batch and returns the service's grants.
func (c *Client) Negotiate(ctx context.Context, baseURL string, batch UploadRequest) (UploadResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return UploadResponse{}, err
	}
	req, err := c.newRequest(ctx, nethttp.MethodPost, joinURL(baseURL, "upload"), bytes.NewReader(body))
	if err != nil {
		return UploadResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return UploadResponse{}, err
	}
	defer drain(resp)

	if !success(resp.StatusCode) {
		return UploadResponse{}, decodeAPIError(resp)
	}

	var envelope struct {
		Result UploadResponse `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return UploadResponse{}, fmt.Errorf("decode upload response: %w", err)
	}
	return envelope.Result, nil
}

// Put streams the file at path to a signed URL. The bearer token is not sent.
// It returns the number of bytes sent.
func (c *Client) Put(ctx context.Context, putURL, path string) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // path is a validated manifest entry
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPut, putURL, f)
	if err != nil {
		return 0, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	if !success(resp.StatusCode) {
		return 0, fmt.Errorf("put %s: %w: %s", req.URL.Redacted(), ErrStatus, resp.Status)
	}
	return info.Size(), nil
}

// Complete tells the service an upload finished. On 409 it returns
// ErrRetryLater and the delay the service asked for.
func (c *Client) Complete(ctx context.Context, baseURL, algorithm, digest string) (time.Duration, error) {
	req, err := c.newRequest(ctx, nethttp.MethodGet, joinURL(baseURL, "upload", "complete", algorithm, digest), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch {
	case success(resp.StatusCode):
		return 0, nil
	case resp.StatusCode == nethttp.StatusConflict:
		return retryAfter(resp.Header), ErrRetryLater
	default:
		return 0, decodeAPIError(resp)
	}
}

func retryAfter(h nethttp.Header) time.Duration {
	for _, key := range []string{"X-Retry-After", "Retry-After"} {
		v := h.Get(key)
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultRetryAfter
}
