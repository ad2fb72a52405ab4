package lookaside

import (
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/meigma/lookaside/cache"
	lookasidehttp "github.com/meigma/lookaside/http"
	"github.com/meigma/lookaside/internal/fileops"
	"github.com/meigma/lookaside/metrics"
)

// Option configures a Client.
type Option func(*Client) error

// Defaults for upload completion notifications.
const (
	DefaultNotifyMaxAttempts = 10
	DefaultNotifyTimeout     = 30 * time.Minute
)

// DefaultAlgorithm is the digest algorithm used for new records.
const DefaultAlgorithm = fileops.SupportedAlgorithm

// --- Remote Options ---

// WithMirrors appends mirror base URLs. Fetch tries them in the order given;
// Upload talks only to the first.
func WithMirrors(urls ...string) Option {
	return func(c *Client) error {
		for _, u := range urls {
			u = strings.TrimSpace(u)
			if u == "" {
				return errors.New("mirror URL must not be empty")
			}
			c.mirrors = append(c.mirrors, u)
		}
		return nil
	}
}

// WithRegion asks mirrors for content stored in region.
func WithRegion(region string) Option {
	return func(c *Client) error {
		c.region = region
		return nil
	}
}

// WithAlgorithm sets the digest algorithm used when adding records.
// Records already in a manifest are always checked with their own algorithm.
func WithAlgorithm(name string) Option {
	return func(c *Client) error {
		if _, err := fileops.Algorithm(name); err != nil {
			return err
		}
		c.algorithm = name
		return nil
	}
}

// --- Authentication Options ---

// WithToken attaches a bearer token to mirror and service requests.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, lookasidehttp.WithToken(token))
		return nil
	}
}

// WithTokenFile reads a bearer token from path once, at construction.
func WithTokenFile(path string) Option {
	return func(c *Client) error {
		token, err := lookasidehttp.ReadTokenFile(path)
		if err != nil {
			return fmt.Errorf("authentication file: %w", err)
		}
		c.httpOpts = append(c.httpOpts, lookasidehttp.WithToken(token))
		return nil
	}
}

// --- Transport Options ---

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, lookasidehttp.WithClient(client))
		return nil
	}
}

// WithUserAgent sets the User-Agent header for every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, lookasidehttp.WithUserAgent(ua))
		return nil
	}
}

// WithNotifyMaxAttempts bounds how many times one upload completion is
// announced while the service keeps answering 409.
func WithNotifyMaxAttempts(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("notify attempts must be at least 1")
		}
		c.notifyMaxAttempts = n
		return nil
	}
}

// WithNotifyTimeout bounds the whole completion notification phase of an upload.
func WithNotifyTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("notify timeout must be positive")
		}
		c.notifyTimeout = d
		return nil
	}
}

// --- Caching Options ---

// WithCacheDir enables the shared disk cache rooted at dir, creating it if needed.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		if dir == "" {
			return errors.New("cache directory must not be empty")
		}
		c.cacheDir = dir
		return nil
	}
}

// WithCache sets a custom cache implementation. Purge works only when it
// also implements cache.Purger.
// Import github.com/meigma/lookaside/cache/disk for the disk implementation.
func WithCache(store cache.Store) Option {
	return func(c *Client) error {
		c.store = store
		return nil
	}
}

// --- Observability Options ---

// WithLogger sets a logger for the client.
// The logger is propagated to the disk cache and setup commands.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics records fetch, upload and purge activity in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) error {
		c.metrics = r
		return nil
	}
}
