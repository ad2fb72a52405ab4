package manifest_test

import (
	"crypto/sha512"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/lookaside/internal/fileops"
	"github.com/meigma/lookaside/manifest"
)

func sha512Hex(data string) string {
	sum := sha512.Sum512([]byte(data))
	return hex.EncodeToString(sum[:])
}

func record(t *testing.T, name, content string) manifest.FileRecord {
	t.Helper()
	r, err := manifest.NewFileRecord(name, int64(len(content)), sha512Hex(content), "sha512")
	require.NoError(t, err)
	return r
}

func TestNewFileRecordRejectsBadFilename(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", ".", "..", "dir/file", "/abs"} {
		_, err := manifest.NewFileRecord(name, 1, "aa", "sha512")
		assert.ErrorIs(t, err, manifest.ErrBadFilename, "filename %q", name)
	}
}

func TestCreateFileRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tool.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	r, err := manifest.CreateFileRecord(path, "sha512")
	require.NoError(t, err)
	assert.Equal(t, "tool.bin", r.Filename)
	assert.Equal(t, int64(5), r.Size)
	assert.Equal(t, sha512Hex("hello"), r.Digest)
	assert.Equal(t, "sha512", r.Algorithm)
	assert.False(t, r.Unpack)
	assert.Equal(t, manifest.VisibilityUnset, r.Visibility)
}

func TestFileRecordEqualIgnoresUnpackAndSetup(t *testing.T) {
	t.Parallel()

	a := record(t, "a.txt", "hello")
	b := a
	b.Unpack = true
	b.Setup = "setup.sh"
	assert.True(t, a.Equal(b))

	c := a
	c.Visibility = manifest.VisibilityPublic
	assert.False(t, a.Equal(c))

	d := a
	d.Size++
	assert.False(t, a.Equal(d))
}

func TestManifestEqualIsOrderInsensitive(t *testing.T) {
	t.Parallel()

	a := record(t, "a.txt", "hello")
	b := record(t, "b.txt", "world")

	assert.True(t, manifest.New(a, b).Equal(manifest.New(b, a)))
	assert.False(t, manifest.New(a, b).Equal(manifest.New(a)))
	assert.False(t, manifest.New(a).Equal(manifest.New(b)))
	assert.True(t, manifest.New().Equal(manifest.Manifest{}))
}

func TestManifestAdd(t *testing.T) {
	t.Parallel()

	a := record(t, "a.txt", "hello")
	m := manifest.New(a)

	t.Run("same content keeps existing record", func(t *testing.T) {
		t.Parallel()
		mm := manifest.New(m.Records...)
		again := a
		again.Unpack = true
		added, err := mm.Add(again)
		require.NoError(t, err)
		assert.False(t, added)
		require.Equal(t, 1, mm.Len())
		assert.False(t, mm.Records[0].Unpack)
	})

	t.Run("different content is a collision", func(t *testing.T) {
		t.Parallel()
		mm := manifest.New(m.Records...)
		_, err := mm.Add(record(t, "a.txt", "goodbye"))
		require.ErrorIs(t, err, manifest.ErrNameCollision)
		assert.Equal(t, 1, mm.Len())
	})

	t.Run("new name is appended", func(t *testing.T) {
		t.Parallel()
		mm := manifest.New(m.Records...)
		added, err := mm.Add(record(t, "b.txt", "world"))
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, []string{"a.txt", "b.txt"}, mm.Filenames())
	})
}

func TestManifestMergeLeavesReceiverUntouched(t *testing.T) {
	t.Parallel()

	m := manifest.New(record(t, "a.txt", "hello"))
	merged, err := m.Merge(record(t, "b.txt", "world"), record(t, "a.txt", "other"))
	require.ErrorIs(t, err, manifest.ErrNameCollision)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 2, merged.Len())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := record(t, "a.txt", "hello")
	path := r.Path(dir)

	assert.Equal(t, manifest.Absent, manifest.Validate(r, path))

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	assert.Equal(t, manifest.Valid, manifest.Validate(r, path))
	assert.Equal(t, manifest.Valid, r.ValidateIn(dir))

	// Same size, different bytes.
	require.NoError(t, os.WriteFile(path, []byte("jello"), 0o644))
	assert.Equal(t, manifest.Invalid, manifest.Validate(r, path))

	require.NoError(t, os.WriteFile(path, []byte("hello!"), 0o644))
	assert.Equal(t, manifest.Invalid, manifest.Validate(r, path))

	unsupported := r
	unsupported.Algorithm = "md5"
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	assert.Equal(t, manifest.Invalid, manifest.Validate(unsupported, path))
}

func TestCheckSeparatesMismatchFromFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := record(t, "a.txt", "hello")

	state, err := r.CheckIn(dir)
	require.NoError(t, err)
	assert.Equal(t, manifest.Absent, state)

	require.NoError(t, os.WriteFile(r.Path(dir), []byte("jello"), 0o644))
	state, err = r.CheckIn(dir)
	require.NoError(t, err, "a digest mismatch is not a failure to check")
	assert.Equal(t, manifest.Invalid, state)

	unsupported := r
	unsupported.Algorithm = "md5"
	state, err = unsupported.CheckIn(dir)
	require.ErrorIs(t, err, fileops.ErrUnsupportedAlgorithm)
	assert.Equal(t, manifest.Invalid, state)

	sub := record(t, "sub", "hello")
	require.NoError(t, os.Mkdir(sub.Path(dir), 0o755))
	_, err = sub.CheckIn(dir)
	require.Error(t, err)
}

func TestNewFileRecordRejectsUnsupportedAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := manifest.NewFileRecord("a.txt", 5, "5d41402abc4b2a76b9719d911017c592", "md5")
	require.ErrorIs(t, err, fileops.ErrUnsupportedAlgorithm)
}

func TestValidateDirectoryIsInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := record(t, "sub", "hello")
	require.NoError(t, os.Mkdir(r.Path(dir), 0o755))
	assert.Equal(t, manifest.Invalid, r.ValidateIn(dir))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "absent", manifest.Absent.String())
	assert.Equal(t, "invalid", manifest.Invalid.String())
	assert.Equal(t, "valid", manifest.Valid.String())
}

func TestParseVisibility(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "internal", "public"} {
		v, err := manifest.ParseVisibility(s)
		require.NoError(t, err)
		assert.Equal(t, manifest.Visibility(s), v)
	}

	_, err := manifest.ParseVisibility("secret")
	require.ErrorIs(t, err, manifest.ErrBadVisibility)

	_, err = manifest.NewFileRecord("a.txt", -1, "00", "sha512")
	require.Error(t, err)
}
