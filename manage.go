package lookaside

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/lookaside/manifest"
)

// List reads the manifest at manifestPath.
func (c *Client) List(manifestPath string) (manifest.Manifest, error) {
	return manifest.LoadFile(manifestPath)
}

// ValidateResult reports the state of each checked record.
type ValidateResult struct {
	// States maps each checked filename to its state on disk.
	States map[string]manifest.State
	// Unknown lists requested filenames the manifest does not contain.
	Unknown []string
}

// OK reports whether every checked record is valid and no requested name was unknown.
func (r ValidateResult) OK() bool {
	if len(r.Unknown) > 0 {
		return false
	}
	for _, s := range r.States {
		if s != manifest.Valid {
			return false
		}
	}
	return true
}

// Validate checks the files in the manifest's directory against their
// records. With no filenames every record is checked.
func (c *Client) Validate(manifestPath string, filenames ...string) (ValidateResult, error) {
	m, err := manifest.LoadFile(manifestPath)
	if err != nil {
		return ValidateResult{}, err
	}
	dir := filepath.Dir(manifestPath)

	records := m.Records
	res := ValidateResult{States: make(map[string]manifest.State)}
	if len(filenames) > 0 {
		records = records[:0:0]
		for _, name := range filenames {
			r, ok := m.Lookup(name)
			if !ok {
				res.Unknown = append(res.Unknown, name)
				continue
			}
			records = append(records, r)
		}
	}

	for _, r := range records {
		state := r.ValidateIn(dir)
		res.States[r.Filename] = state
		if state != manifest.Valid {
			c.log().Warn("file does not validate", "file", r.Filename, "state", state.String())
		}
	}
	return res, nil
}

// Add hashes each path with the client's algorithm and records it in the
// manifest at manifestPath, creating the manifest if it does not exist.
//
// Re-adding identical content under the same name keeps the existing record.
// If any path collides with a different record, nothing is written and the
// error wraps ErrNameCollision.
func (c *Client) Add(manifestPath string, paths []string, opts ...AddOption) (manifest.Manifest, error) {
	cfg := addConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := manifest.ParseVisibility(string(cfg.visibility)); err != nil {
		return manifest.Manifest{}, err
	}

	m, err := manifest.LoadFile(manifestPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		m = manifest.New()
	default:
		return manifest.Manifest{}, err
	}

	records := make([]manifest.FileRecord, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return manifest.Manifest{}, err
		}
		if !info.Mode().IsRegular() {
			return manifest.Manifest{}, fmt.Errorf("%s is not a regular file", path)
		}
		r, err := manifest.CreateFileRecord(path, c.algorithm)
		if err != nil {
			return manifest.Manifest{}, err
		}
		r.Visibility = cfg.visibility
		r.Unpack = cfg.unpack
		r.Setup = cfg.setup
		records = append(records, r)
	}

	merged, err := m.Merge(records...)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if err := manifest.DumpFile(manifestPath, merged); err != nil {
		return manifest.Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	c.log().Info("manifest updated", "manifest", manifestPath, "records", merged.Len())
	return merged, nil
}
