package lookaside

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/meigma/lookaside/cache"
	"github.com/meigma/lookaside/cache/disk"
	"github.com/meigma/lookaside/internal/fileops"
	"github.com/meigma/lookaside/manifest"
)

func newDiskCache(dir string, logger *slog.Logger) (*disk.Cache, error) {
	return disk.New(dir, disk.WithLogger(logger))
}

// fromCache installs r from the cache. A cached entry whose content does not
// match r is deleted from the cache; any other failure leaves it in place.
func (c *Client) fromCache(ctx context.Context, dir string, r manifest.FileRecord) bool {
	if c.store == nil {
		return false
	}
	src, ok := c.store.Lookup(r.Digest)
	if !ok {
		c.log().Debug("cache miss", "file", r.Filename)
		return false
	}
	if err := c.store.Touch(r.Digest); err != nil {
		c.log().Debug("failed to touch cache entry", "file", r.Filename, "error", err)
	}

	err := c.install(dir, r, func(f *os.File) error {
		in, err := os.Open(src) //nolint:gosec // src is a cache entry named by a validated digest
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = fileops.CopyWithContext(ctx, f, in, make([]byte, copyBufferSize))
		return err
	})
	if err == nil {
		c.log().Debug("cache hit", "file", r.Filename)
		return true
	}

	if !errors.Is(err, ErrContentMismatch) {
		c.log().Warn("failed to install from cache", "file", r.Filename, "error", err)
		return false
	}

	c.log().Warn("cached copy does not match, removing", "file", r.Filename, "error", err)
	if derr := c.store.Delete(r.Digest); derr != nil {
		c.log().Warn("failed to delete corrupt cache entry", "file", r.Filename, "error", derr)
		return false
	}
	c.metrics.Healed("cache")
	return false
}

// toCache copies an installed file into the cache. Failures are logged only.
func (c *Client) toCache(ctx context.Context, dir string, r manifest.FileRecord) {
	if c.store == nil {
		return
	}
	if err := c.store.PutFile(ctx, r.Digest, r.Path(dir)); err != nil {
		c.log().Warn("failed to populate cache", "file", r.Filename, "error", err)
	}
}

// Purge evicts cache entries, oldest first, until targetFreeBytes are free on
// the cache's filesystem. A target of zero empties the cache. Subdirectories
// of the cache root are never touched.
func (c *Client) Purge(ctx context.Context, targetFreeBytes uint64) (cache.PurgeStats, error) {
	purger, ok := c.store.(cache.Purger)
	if !ok {
		return cache.PurgeStats{}, ErrNoCache
	}
	stats, err := purger.Purge(ctx, targetFreeBytes)
	c.metrics.Purged(stats.Deleted, stats.Freed)
	if err != nil {
		return stats, err
	}
	c.log().Info("purged cache",
		"deleted", stats.Deleted,
		"freed_bytes", stats.Freed,
		"failed", stats.Failed)
	return stats, nil
}
