package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type entry struct {
	name     string
	body     string
	linkname string
	dir      bool
	mode     int64
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		case e.linkname != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.linkname
			hdr.Size = 0
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, format Format, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch format {
	case FormatTar:
		return data
	case FormatTarGzip:
		w = gzip.NewWriter(&buf)
	case FormatTarXz:
		w, err = xz.NewWriter(&buf)
	case FormatTarZstd:
		w, err = zstd.NewWriter(&buf)
	default:
		t.Fatalf("no test compressor for %s", format)
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if e.dir {
			_, err := zw.Create(e.name + "/")
			require.NoError(t, err)
			continue
		}
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

var sampleTree = []entry{
	{name: "tools/", dir: true, mode: 0o755},
	{name: "tools/bin/run.sh", body: "#!/bin/sh\necho hi\n", mode: 0o755},
	{name: "tools/README", body: "readme"},
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"tools.tar.gz":  "tools",
		"tools.tgz":     "tools",
		"tools.tar.xz":  "tools",
		"tools.tar.bz2": "tools",
		"tools.tar.zst": "tools",
		"tools.tar":     "tools",
		"tools.zip":     "tools",
		"tools.TAR.GZ":  "tools",
		"tools.7z":      "tools",
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseName(in), "BaseName(%q)", in)
	}
}

func TestUnpackTarFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		file   string
		format Format
	}{
		{name: "tar", file: "tools.tar", format: FormatTar},
		{name: "gzip", file: "tools.tar.gz", format: FormatTarGzip},
		{name: "xz", file: "tools.tar.xz", format: FormatTarXz},
		{name: "zstd", file: "tools.tar.zst", format: FormatTarZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, compress(t, tt.format, tarBytes(t, sampleTree)), 0o644))

			format, err := Detect(path)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)

			base, err := Unpack(context.Background(), path, dir)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "tools"), base)

			got, err := os.ReadFile(filepath.Join(base, "bin", "run.sh"))
			require.NoError(t, err)
			assert.Equal(t, "#!/bin/sh\necho hi\n", string(got))

			info, err := os.Stat(filepath.Join(base, "bin", "run.sh"))
			require.NoError(t, err)
			assert.NotZero(t, info.Mode().Perm()&0o100, "executable bit must survive")
		})
	}
}

func TestUnpackZip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tools.zip")
	require.NoError(t, os.WriteFile(path, zipBytes(t, sampleTree), 0o644))

	format, err := Detect(path)
	require.NoError(t, err)
	assert.Equal(t, FormatZip, format)

	base, err := Unpack(context.Background(), path, dir)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(base, "README"))
	require.NoError(t, err)
	assert.Equal(t, "readme", string(got))
}

func TestUnpackReplacesExistingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := filepath.Join(dir, "tools", "stale.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	path := filepath.Join(dir, "tools.tar.gz")
	require.NoError(t, os.WriteFile(path, compress(t, FormatTarGzip, tarBytes(t, sampleTree)), 0o644))

	_, err := Unpack(context.Background(), path, dir)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(dir, "tools", "README"))
}

func TestUnpackRejectsTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []entry
	}{
		{name: "dotdot", entries: []entry{{name: "../evil", body: "x"}}},
		{name: "nested dotdot", entries: []entry{{name: "tools/../../evil", body: "x"}}},
		{name: "absolute", entries: []entry{{name: "/tmp/evil", body: "x"}}},
		{name: "absolute symlink", entries: []entry{{name: "tools/link", linkname: "/etc/passwd"}}},
		{name: "escaping symlink", entries: []entry{{name: "tools/link", linkname: "../../outside"}}},
		{name: "symlink chain", entries: []entry{
			{name: "tools/a/", dir: true, mode: 0o755},
			{name: "tools/a/l", linkname: ".."},
			{name: "tools/a/l/m", linkname: ".."},
			{name: "tools/a/l/m/n", linkname: ".."},
			{name: "tools/a/l/m/n/evil", body: "x"},
		}},
		{name: "file below symlink", entries: []entry{
			{name: "tools/up", linkname: "."},
			{name: "tools/up/evil", body: "x"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			dir := filepath.Join(root, "work")
			require.NoError(t, os.Mkdir(dir, 0o755))
			path := filepath.Join(dir, "tools.tar")
			require.NoError(t, os.WriteFile(path, tarBytes(t, tt.entries), 0o644))

			_, err := Unpack(context.Background(), path, dir)
			require.ErrorIs(t, err, ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(root, "evil"))
		})
	}
}

func TestUnpackAllowsInternalSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tools.tar")
	entries := append([]entry{}, sampleTree...)
	entries = append(entries, entry{name: "tools/latest", linkname: "bin/run.sh"})
	require.NoError(t, os.WriteFile(path, tarBytes(t, entries), 0o644))

	base, err := Unpack(context.Background(), path, dir)
	require.NoError(t, err)
	target, err := os.Readlink(filepath.Join(base, "latest"))
	require.NoError(t, err)
	assert.Equal(t, "bin/run.sh", target)
}

func TestDetectUnknown(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := Detect(path)
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Unpack(context.Background(), path, filepath.Dir(path))
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestUnpackRejectsDegenerateBaseName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "...zip")
	require.NoError(t, os.WriteFile(path, zipBytes(t, sampleTree), 0o644))

	_, err := Unpack(context.Background(), path, dir)
	require.ErrorIs(t, err, ErrUnsafePath)
	assert.DirExists(t, dir)
}
