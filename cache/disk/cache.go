// Package disk provides the on-disk lookaside cache.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/lookaside/cache"
	"github.com/meigma/lookaside/internal/fileops"
	"github.com/meigma/lookaside/internal/statfs"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	tempPrefix = ".tmp-"
)

// ErrBadDigest is returned when a digest cannot be used as an entry name.
var ErrBadDigest = errors.New("digest is not lowercase hex")

// Cache implements cache.Store and cache.Purger on a flat directory.
// Entry names are digests; subdirectories are never read or modified.
type Cache struct {
	dir       string      // root directory for cached files
	dirPerm   os.FileMode // permissions for the root if it must be created
	filePerm  os.FileMode // permissions for cached files
	freeSpace statfs.Func
	now       func() time.Time
	logger    *slog.Logger

	removeFile func(string) error
}

var (
	_ cache.Store  = (*Cache)(nil)
	_ cache.Purger = (*Cache)(nil)
)

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the permissions used when creating the cache root.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithFilePerm sets the permissions of cached files.
func WithFilePerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.filePerm = mode
	}
}

// WithFreeSpaceFunc overrides the free-space query used by Purge.
func WithFreeSpaceFunc(fn statfs.Func) Option {
	return func(c *Cache) {
		c.freeSpace = fn
	}
}

// WithClock overrides the time source used by Touch.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger for cache operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a disk-backed cache rooted at dir, creating dir if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:       dir,
		dirPerm:   defaultDirPerm,
		filePerm:  defaultFilePerm,
		freeSpace: statfs.Free,
		now:       time.Now,

		removeFile: os.Remove,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Lookup returns the path of the regular file named digest directly under
// the cache root.
func (c *Cache) Lookup(digest string) (string, bool) {
	path, err := c.path(digest)
	if err != nil {
		return "", false
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// Put stores content by reading r to completion. The entry appears
// atomically and is touched afterwards.
func (c *Cache) Put(ctx context.Context, digest string, r io.Reader) error {
	path, err := c.path(digest)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := fileops.CopyWithContext(ctx, tmp, r, make([]byte, 32<<10)); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, c.filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return c.Touch(digest)
}

// PutFile copies the file at src into the cache under digest.
func (c *Cache) PutFile(ctx context.Context, digest, src string) error {
	f, err := os.Open(src) //nolint:gosec // src is an installed artifact path
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Put(ctx, digest, f)
}

// Touch sets the entry's access and modification times to now.
func (c *Cache) Touch(digest string) error {
	path, err := c.path(digest)
	if err != nil {
		return err
	}
	now := c.now()
	return os.Chtimes(path, now, now)
}

// Delete removes the entry for digest.
func (c *Cache) Delete(digest string) error {
	path, err := c.path(digest)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Cache) path(digest string) (string, error) {
	if !validDigest(digest) {
		return "", fmt.Errorf("%w: %q", ErrBadDigest, digest)
	}
	return filepath.Join(c.dir, digest), nil
}

func validDigest(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
