package disk

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/meigma/lookaside/cache"
)

type cacheEntry struct {
	name    string
	size    int64
	modTime time.Time
}

// Purge evicts cache entries.
//
// With targetFreeBytes == 0 every regular file at the top of the cache root is
// deleted. Otherwise entries are deleted oldest-by-mtime first while the free
// space on the cache's filesystem is below targetFreeBytes. Entries that
// cannot be deleted are logged and skipped. Subdirectories are left alone.
func (c *Cache) Purge(ctx context.Context, targetFreeBytes uint64) (cache.PurgeStats, error) {
	var stats cache.PurgeStats

	entries, err := listEntries(c.dir)
	if err != nil {
		return stats, err
	}

	if targetFreeBytes == 0 {
		c.logger.Info("purging entire cache", slog.String("dir", c.dir), slog.Int("entries", len(entries)))
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			c.remove(e, &stats)
		}
		return stats, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].name < entries[j].name
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		free, err := c.freeSpace(c.dir)
		if err != nil {
			return stats, err
		}
		if free >= targetFreeBytes {
			return stats, nil
		}
		c.remove(e, &stats)
	}

	if free, err := c.freeSpace(c.dir); err == nil && free < targetFreeBytes {
		c.logger.Warn("cache empty but free space target not met",
			slog.String("dir", c.dir),
			slog.Uint64("free_bytes", free),
			slog.Uint64("target_bytes", targetFreeBytes))
	}
	return stats, nil
}

func (c *Cache) remove(e cacheEntry, stats *cache.PurgeStats) {
	path := filepath.Join(c.dir, e.name)
	if err := c.removeFile(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		stats.Failed++
		c.logger.Warn("failed to purge cache entry", slog.String("path", path), slog.Any("error", err))
		return
	}
	c.logger.Debug("purged cache entry", slog.String("path", path), slog.Int64("size", e.size))
	stats.Deleted++
	stats.Freed += e.size
}

// listEntries returns the regular files directly under root.
func listEntries(root string) ([]cacheEntry, error) {
	dirents, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]cacheEntry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entries = append(entries, cacheEntry{
			name:    d.Name(),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return entries, nil
}
