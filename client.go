package lookaside

import (
	"log/slog"
	"time"

	"github.com/meigma/lookaside/cache"
	lookasidehttp "github.com/meigma/lookaside/http"
	"github.com/meigma/lookaside/metrics"
)

// Client synchronizes manifest-listed artifacts with a cache and mirrors.
//
// A Client is safe for sequential reuse across operations. Concurrent
// operations on the same manifest directory are safe for Fetch only.
type Client struct {
	mirrors   []string
	region    string
	algorithm string

	http     *lookasidehttp.Client
	httpOpts []lookasidehttp.Option

	store    cache.Store
	cacheDir string

	notifyMaxAttempts int
	notifyTimeout     time.Duration

	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewClient creates a client with the given options.
//
// Without [WithMirrors] only local and cached files can be fetched. Without
// [WithCacheDir] or [WithCache] the cache stage is skipped.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		algorithm:         DefaultAlgorithm,
		notifyMaxAttempts: DefaultNotifyMaxAttempts,
		notifyTimeout:     DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.store == nil && c.cacheDir != "" {
		store, err := newDiskCache(c.cacheDir, c.log())
		if err != nil {
			return nil, err
		}
		c.store = store
	}
	c.http = lookasidehttp.New(c.httpOpts...)
	return c, nil
}

// Mirrors returns the configured mirror base URLs in the order they are tried.
func (c *Client) Mirrors() []string {
	return append([]string(nil), c.mirrors...)
}

// Algorithm returns the digest algorithm used for new records.
func (c *Client) Algorithm() string {
	return c.algorithm
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
