package lookaside

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	lookasidehttp "github.com/meigma/lookaside/http"
	"github.com/meigma/lookaside/internal/archive"
	"github.com/meigma/lookaside/internal/fileops"
	"github.com/meigma/lookaside/internal/setup"
	"github.com/meigma/lookaside/manifest"
	"github.com/meigma/lookaside/metrics"
)

const copyBufferSize = 32 << 10

// FetchResult reports the outcome of every record in a fetch.
type FetchResult struct {
	// Present lists records that were already valid locally or restored from the cache.
	Present []string
	// Fetched lists records downloaded from a mirror.
	Fetched []string
	// Skipped lists records that were unavailable and excluded by FetchWithFilenames.
	Skipped []string
	// Failed maps records that could not be made present to the reason.
	Failed map[string]error
	// UnpackFailed maps archives that failed to extract or set up to the reason.
	UnpackFailed map[string]error
}

// OK reports whether every requested record is present and unpacked.
func (r FetchResult) OK() bool {
	return len(r.Failed) == 0 && len(r.UnpackFailed) == 0
}

// FailedNames returns the sorted names of failed and unpack-failed records.
func (r FetchResult) FailedNames() []string {
	names := make([]string, 0, len(r.Failed)+len(r.UnpackFailed))
	for name := range r.Failed {
		names = append(names, name)
	}
	for name := range r.UnpackFailed {
		if _, dup := r.Failed[name]; !dup {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Artifact describes one downloaded file in an artifact manifest.
type Artifact struct {
	URL        string `json:"url"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	Algorithm  string `json:"algorithm"`
	Visibility string `json:"visibility,omitempty"`
}

// Fetch makes every record of the manifest at manifestPath present in the
// manifest's directory.
//
// Records are processed in order and independently. The returned error is
// non-nil only when the manifest cannot be read, the context is cancelled, or
// a requested artifact manifest cannot be written; per-file failures are
// reported in the result.
func (c *Client) Fetch(ctx context.Context, manifestPath string, opts ...FetchOption) (FetchResult, error) {
	cfg := fetchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := manifest.LoadFile(manifestPath)
	if err != nil {
		return FetchResult{}, err
	}
	dir := filepath.Dir(manifestPath)

	var want map[string]bool
	if len(cfg.filenames) > 0 {
		want = make(map[string]bool, len(cfg.filenames))
		for _, name := range cfg.filenames {
			want[name] = true
		}
	}

	c.log().Info("fetching", "manifest", manifestPath, "records", m.Len(), "mirrors", len(c.mirrors), "authenticated", c.http.Authenticated())

	res := FetchResult{
		Failed:       make(map[string]error),
		UnpackFailed: make(map[string]error),
	}
	artifacts := make(map[string]Artifact)
	var ready []manifest.FileRecord

	for _, r := range m.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch {
		case c.fromLocal(dir, r):
			res.Present = append(res.Present, r.Filename)
			c.metrics.FilePresent(metrics.SourceLocal)
			cfg.progress.emit(ProgressEvent{Stage: StageResolved, Filename: r.Filename, Source: metrics.SourceLocal})

		case c.fromCache(ctx, dir, r):
			res.Present = append(res.Present, r.Filename)
			c.metrics.FilePresent(metrics.SourceCache)
			cfg.progress.emit(ProgressEvent{Stage: StageResolved, Filename: r.Filename, Source: metrics.SourceCache, Bytes: r.Size})

		case want != nil && !want[r.Filename]:
			c.log().Debug("not requested, skipping download", "file", r.Filename)
			res.Skipped = append(res.Skipped, r.Filename)
			continue

		default:
			mirror, n, err := c.download(ctx, dir, r)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				c.log().Error("fetch failed", "file", r.Filename, "error", err)
				res.Failed[r.Filename] = err
				c.metrics.FetchFailed()
				cfg.progress.emit(ProgressEvent{Stage: StageFailed, Filename: r.Filename, Err: err})
				continue
			}
			c.log().Info("downloaded", "file", r.Filename, "mirror", mirror, "size", n)
			c.toCache(ctx, dir, r)
			res.Fetched = append(res.Fetched, r.Filename)
			c.metrics.FilePresent(metrics.SourceNetwork)
			cfg.progress.emit(ProgressEvent{Stage: StageDownloaded, Filename: r.Filename, Source: mirror, Bytes: n})
			artifacts[r.Filename] = Artifact{
				URL:        lookasidehttp.ContentURL(mirror, r.Algorithm, r.Digest, c.region),
				Size:       r.Size,
				Digest:     r.Digest,
				Algorithm:  r.Algorithm,
				Visibility: string(r.Visibility),
			}
		}
		ready = append(ready, r)
	}

	// Unpack only after every record is in place; setup commands may use siblings.
	for _, r := range ready {
		if !r.Unpack {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.unpack(ctx, dir, r); err != nil {
			c.log().Error("unpack failed", "file", r.Filename, "error", err)
			res.UnpackFailed[r.Filename] = err
			c.metrics.UnpackFailed()
			cfg.progress.emit(ProgressEvent{Stage: StageFailed, Filename: r.Filename, Err: err})
			continue
		}
		cfg.progress.emit(ProgressEvent{Stage: StageUnpacked, Filename: r.Filename})
	}

	if cfg.artifactManifest != "" {
		if err := writeArtifactManifest(cfg.artifactManifest, artifacts); err != nil {
			return res, fmt.Errorf("write artifact manifest: %w", err)
		}
	}
	return res, nil
}

// fromLocal reports whether the working-directory copy of r is valid. A copy
// whose size or digest does not match is deleted; one that cannot be read is
// left alone.
func (c *Client) fromLocal(dir string, r manifest.FileRecord) bool {
	state, err := r.CheckIn(dir)
	if err != nil {
		c.log().Warn("cannot verify local file, leaving it in place", "file", r.Filename, "error", err)
		return false
	}
	switch state {
	case manifest.Valid:
		c.log().Debug("local file valid", "file", r.Filename)
		return true
	case manifest.Invalid:
		c.log().Warn("local file does not match manifest, removing", "file", r.Filename)
		if err := os.Remove(r.Path(dir)); err != nil {
			c.log().Warn("failed to remove invalid local file", "file", r.Filename, "error", err)
			return false
		}
		c.metrics.Healed("local")
	case manifest.Absent:
	}
	return false
}

// download tries each mirror in order. The first mirror that answers with a
// complete body wins; if those bytes do not match r, no other mirror is tried.
func (c *Client) download(ctx context.Context, dir string, r manifest.FileRecord) (string, int64, error) {
	if len(c.mirrors) == 0 {
		return "", 0, ErrNoMirrors
	}
	if !fileops.ValidHex(r.Algorithm, r.Digest) {
		return "", 0, fmt.Errorf("%w: %s %q", ErrBadDigest, r.Algorithm, r.Digest)
	}

	var errs []error
	for _, mirror := range c.mirrors {
		body, err := c.http.Fetch(ctx, mirror, r.Algorithm, r.Digest, c.region)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			c.mirrorFailed(mirror, r, err)
			errs = append(errs, err)
			continue
		}

		var n int64
		err = c.install(dir, r, func(f *os.File) error {
			var cerr error
			n, cerr = fileops.CopyWithContext(ctx, f, body, make([]byte, copyBufferSize))
			return cerr
		})
		_ = body.Close()
		c.metrics.Downloaded(n)

		switch {
		case err == nil:
			return mirror, n, nil
		case errors.Is(err, ErrContentMismatch):
			return "", n, fmt.Errorf("from %s: %w", mirror, err)
		case ctx.Err() != nil:
			return "", n, ctx.Err()
		}
		c.mirrorFailed(mirror, r, err)
		errs = append(errs, err)
	}
	return "", 0, fmt.Errorf("%w: %w", ErrAllMirrorsFailed, errors.Join(errs...))
}

func (c *Client) mirrorFailed(mirror string, r manifest.FileRecord, err error) {
	c.log().Warn("mirror failed, trying next", "file", r.Filename, "mirror", mirror, "error", err)
	c.metrics.MirrorError(mirror)
}

// install writes r's content through fill into a uniquely named temporary
// file beside the target, checks it against r, and renames it into place.
// Nothing is left behind on failure.
func (c *Client) install(dir string, r manifest.FileRecord, fill func(*os.File) error) (err error) {
	tmp, err := os.CreateTemp(dir, "."+r.Filename+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	state, err := manifest.Check(r, tmpPath)
	if err != nil {
		return fmt.Errorf("verify %s: %w", r.Filename, err)
	}
	if state != manifest.Valid {
		return fmt.Errorf("%w: %s", ErrContentMismatch, r.Filename)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, r.Path(dir))
}

func (c *Client) unpack(ctx context.Context, dir string, r manifest.FileRecord) error {
	base, err := archive.Unpack(ctx, r.Path(dir), dir)
	if err != nil {
		return err
	}
	c.log().Info("unpacked", "file", r.Filename, "dir", base)
	if r.Setup == "" {
		return nil
	}
	return setup.Run(ctx, base, r.Setup, c.log())
}

func writeArtifactManifest(path string, artifacts map[string]Artifact) error {
	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644) //nolint:gosec // artifact manifests are meant to be shared
}
