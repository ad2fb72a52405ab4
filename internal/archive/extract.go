package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/meigma/lookaside/internal/pathutil"
)

// Extract writes the contents of the archive at path into destDir.
func Extract(ctx context.Context, path, destDir string, format Format) error {
	rootAbs, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	// Symlink targets are resolved physically, so the root must be too.
	if resolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = resolved
	}
	if format == FormatZip {
		return extractZip(ctx, path, rootAbs)
	}

	f, err := os.Open(path) //nolint:gosec // path is a fetched manifest entry
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(format, f)
	if err != nil {
		return fmt.Errorf("open %s archive: %w", format, err)
	}
	defer closeFn()

	return extractTar(ctx, tar.NewReader(r), rootAbs)
}

func decompressor(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatTar:
		return r, func() {}, nil
	case FormatTarGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	case FormatTarBzip2:
		return bzip2.NewReader(r), func() {}, nil
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() {}, nil
	case FormatTarZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return nil, nil, ErrUnknownFormat
	}
}

func extractTar(ctx context.Context, tr *tar.Reader, rootAbs string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target, err := safeJoin(rootAbs, hdr.Name)
		if err != nil {
			return err
		}
		if target == rootAbs {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr.FileInfo().Mode())); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(rootAbs, target, hdr.Name, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			src, err := safeJoin(rootAbs, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			// Devices, fifos and pax metadata carry nothing to install.
		}
	}
}

func extractZip(ctx context.Context, path, rootAbs string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("open zip archive: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(rootAbs, zf.Name)
		if err != nil {
			return err
		}
		if target == rootAbs {
			continue
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, dirMode(mode)); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			linkname, err := readZipLink(zf)
			if err != nil {
				return err
			}
			if err := writeSymlink(rootAbs, target, zf.Name, linkname); err != nil {
				return err
			}
		default:
			if err := extractZipFile(zf, target, mode); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractZipFile(zf *zip.File, target string, mode fs.FileMode) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(target, rc, mode)
}

func readZipLink(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	// Replace rather than follow anything already at target.
	_ = os.Remove(target)
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm) //nolint:gosec // target checked by safeJoin
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // archives are content-verified before unpack
		_ = out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

func writeSymlink(rootAbs, target, name, linkname string) error {
	if err := pathutil.Link(rootAbs, target, linkname); err != nil {
		return fmt.Errorf("%w: symlink %s: %w", ErrUnsafePath, name, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	_ = os.Remove(target)
	return os.Symlink(linkname, target)
}

// safeJoin resolves an archive member name under rootAbs. Members below a
// symlink extracted earlier are refused.
func safeJoin(rootAbs, member string) (string, error) {
	target, err := pathutil.Join(rootAbs, member)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	if err := pathutil.NoSymlinkParents(rootAbs, target); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	return target, nil
}

func dirMode(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o755
	}
	// Directories must stay traversable by the owner for extraction to continue.
	return perm | 0o700
}
