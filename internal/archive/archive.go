// Package archive detects and extracts the archive formats lookaside can
// unpack after a fetch: tar (plain, gzip, bzip2, xz, zstd) and zip.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies an archive container and compression.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatTar
	FormatTarGzip
	FormatTarBzip2
	FormatTarXz
	FormatTarZstd
	FormatZip
)

var formatNames = map[Format]string{
	FormatUnknown:  "unknown",
	FormatTar:      "tar",
	FormatTarGzip:  "tar.gz",
	FormatTarBzip2: "tar.bz2",
	FormatTarXz:    "tar.xz",
	FormatTarZstd:  "tar.zst",
	FormatZip:      "zip",
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return formatNames[f]
}

var (
	// ErrUnknownFormat is returned when a file is not a supported archive.
	ErrUnknownFormat = errors.New("unknown archive format")

	// ErrUnsafePath is returned for entries that would land outside the
	// destination directory.
	ErrUnsafePath = errors.New("archive entry escapes destination")
)

// suffixes map file name endings to formats; longer endings come first.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGzip},
	{".tar.bz2", FormatTarBzip2},
	{".tar.xz", FormatTarXz},
	{".tar.zst", FormatTarZstd},
	{".tgz", FormatTarGzip},
	{".tbz2", FormatTarBzip2},
	{".txz", FormatTarXz},
	{".tzst", FormatTarZstd},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicZip   = []byte("PK\x03\x04")
	magicZipE  = []byte("PK\x05\x06") // empty archive
	magicUstar = []byte("ustar")
)

// sniffLen covers the ustar magic at offset 257.
const sniffLen = 512

// Detect identifies the archive format of the file at path from its leading
// bytes, falling back to the file name for plain tar archives that carry no
// magic number.
func Detect(path string) (Format, error) {
	f, err := os.Open(path) //nolint:gosec // path is a fetched manifest entry
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicGzip):
		return FormatTarGzip, nil
	case bytes.HasPrefix(head, magicBzip2):
		return FormatTarBzip2, nil
	case bytes.HasPrefix(head, magicXz):
		return FormatTarXz, nil
	case bytes.HasPrefix(head, magicZstd):
		return FormatTarZstd, nil
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipE):
		return FormatZip, nil
	case len(head) >= 262 && bytes.Equal(head[257:262], magicUstar):
		return FormatTar, nil
	}
	if byName(filepath.Base(path)) == FormatTar {
		return FormatTar, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
}

func byName(name string) Format {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format
		}
	}
	return FormatUnknown
}

// BaseName returns the directory name an archive is expected to unpack into:
// the file name with its archive extension removed.
func BaseName(name string) string {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return name[:len(name)-len(s.suffix)]
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Unpack extracts the archive at path into destDir after removing any
// existing destDir/BaseName(path) tree. It returns that directory.
func Unpack(ctx context.Context, path, destDir string) (string, error) {
	format, err := Detect(path)
	if err != nil {
		return "", err
	}

	name := BaseName(filepath.Base(path))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, filepath.Base(path))
	}
	base := filepath.Join(destDir, name)
	if err := os.RemoveAll(base); err != nil {
		return "", fmt.Errorf("remove %s: %w", base, err)
	}

	if err := Extract(ctx, path, destDir, format); err != nil {
		return "", err
	}
	return base, nil
}
