// Package manifest defines the lookaside manifest: an ordered list of file
// records that is checked into version control in place of the artifacts it
// describes.
//
// A manifest document is a JSON array:
//
//	[
//	  {
//	    "filename": "toolchain.tar.xz",
//	    "size": 1048576,
//	    "algorithm": "sha512",
//	    "digest": "cf83e1...",
//	    "unpack": true,
//	    "visibility": "public"
//	  }
//	]
//
// Records are resolved relative to the directory that holds the manifest.
package manifest

import (
	"errors"
	"fmt"
)

// DefaultName is the conventional manifest file name.
const DefaultName = "manifest.tt"

// Manifest is an ordered collection of file records.
//
// Order is preserved for serialization so diffs stay stable, but equality
// treats the manifest as a set keyed by filename.
type Manifest struct {
	Records []FileRecord
}

// New returns a manifest holding a copy of records.
func New(records ...FileRecord) Manifest {
	return Manifest{Records: append([]FileRecord(nil), records...)}
}

// Len returns the number of records.
func (m Manifest) Len() int {
	return len(m.Records)
}

// Lookup returns the first record with the given filename.
func (m Manifest) Lookup(filename string) (FileRecord, bool) {
	for _, r := range m.Records {
		if r.Filename == filename {
			return r, true
		}
	}
	return FileRecord{}, false
}

// Filenames returns every record's filename in manifest order.
func (m Manifest) Filenames() []string {
	names := make([]string, 0, len(m.Records))
	for _, r := range m.Records {
		names = append(names, r.Filename)
	}
	return names
}

// Equal reports whether both manifests hold the same records by filename,
// ignoring order.
func (m Manifest) Equal(other Manifest) bool {
	a, b := m.byName(), other.byName()
	if len(a) != len(b) {
		return false
	}
	for name, ra := range a {
		rb, ok := b[name]
		if !ok || !ra.Equal(rb) {
			return false
		}
	}
	return true
}

func (m Manifest) byName() map[string]FileRecord {
	out := make(map[string]FileRecord, len(m.Records))
	for _, r := range m.Records {
		out[r.Filename] = r
	}
	return out
}

// Add appends r unless the manifest already holds it.
//
// A record equal to an existing one under the same filename is kept as is
// and Add reports added=false. A different record under the same filename
// is rejected with ErrNameCollision.
func (m *Manifest) Add(r FileRecord) (added bool, err error) {
	if err := r.check(); err != nil {
		return false, err
	}
	for _, existing := range m.Records {
		if existing.Filename != r.Filename {
			continue
		}
		if existing.Equal(r) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", ErrNameCollision, r.Filename)
	}
	m.Records = append(m.Records, r)
	return true, nil
}

// Merge returns a new manifest with records added to a copy of m.
// Every collision is reported; on any collision the returned manifest
// should not be persisted.
func (m Manifest) Merge(records ...FileRecord) (Manifest, error) {
	out := New(m.Records...)
	var errs []error
	for _, r := range records {
		if _, err := out.Add(r); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
