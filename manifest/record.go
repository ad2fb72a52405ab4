package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/lookaside/internal/fileops"
)

// Visibility describes who may download an uploaded artifact.
type Visibility string

// Visibility values. The zero value means "not set".
const (
	VisibilityUnset    Visibility = ""
	VisibilityInternal Visibility = "internal"
	VisibilityPublic   Visibility = "public"
)

// ParseVisibility converts a user-supplied string to a Visibility.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case VisibilityUnset, VisibilityInternal, VisibilityPublic:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadVisibility, s)
	}
}

// FileRecord identifies one artifact by name, size and content digest.
//
// Filename is always relative to the directory holding the manifest and may
// not contain a path separator. Unpack and Setup are instructions for the
// fetcher and are not part of a record's identity.
type FileRecord struct {
	Filename   string
	Size       int64
	Digest     string
	Algorithm  string
	Unpack     bool
	Visibility Visibility
	Setup      string
}

// NewFileRecord builds a record after checking the filename and size.
func NewFileRecord(filename string, size int64, digest, algorithm string) (FileRecord, error) {
	r := FileRecord{
		Filename:  filename,
		Size:      size,
		Digest:    digest,
		Algorithm: algorithm,
	}
	if err := r.check(); err != nil {
		return FileRecord{}, err
	}
	return r, nil
}

// CreateFileRecord hashes the file at path and returns a record for it.
// The record's filename is the base name of path.
func CreateFileRecord(path, algorithm string) (FileRecord, error) {
	hexDigest, size, err := fileops.Digest(path, algorithm)
	if err != nil {
		return FileRecord{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return NewFileRecord(filepath.Base(path), size, hexDigest, algorithm)
}

func (r FileRecord) check() error {
	if err := checkFilename(r.Filename); err != nil {
		return err
	}
	if r.Size < 0 {
		return fmt.Errorf("%s: negative size %d", r.Filename, r.Size)
	}
	if _, err := fileops.Algorithm(r.Algorithm); err != nil {
		return fmt.Errorf("%s: %w", r.Filename, err)
	}
	if _, err := ParseVisibility(string(r.Visibility)); err != nil {
		return fmt.Errorf("%s: %w", r.Filename, err)
	}
	return nil
}

func checkFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, os.PathSeparator) {
		return fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	return nil
}

// Equal reports whether two records describe the same artifact.
func (r FileRecord) Equal(other FileRecord) bool {
	return r.Filename == other.Filename &&
		r.Size == other.Size &&
		r.Digest == other.Digest &&
		r.Algorithm == other.Algorithm &&
		r.Visibility == other.Visibility
}

// Path resolves the record's filename against dir.
func (r FileRecord) Path(dir string) string {
	return filepath.Join(dir, r.Filename)
}

// String returns a short human-readable description.
func (r FileRecord) String() string {
	return fmt.Sprintf("%s (%d bytes, %s:%s)", r.Filename, r.Size, r.Algorithm, r.Digest)
}
