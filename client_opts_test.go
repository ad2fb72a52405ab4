package lookaside

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/lookaside/internal/testutil"
)

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewClient()
	require.NoError(t, err)

	assert.Equal(t, "sha512", c.Algorithm())
	assert.Equal(t, DefaultNotifyMaxAttempts, c.notifyMaxAttempts)
	assert.Equal(t, DefaultNotifyTimeout, c.notifyTimeout)
	assert.Nil(t, c.store)
	assert.Empty(t, c.Mirrors())
}

func TestWithMirrorsKeepsOrder(t *testing.T) {
	t.Parallel()

	c, err := NewClient(WithMirrors("https://a.example"), WithMirrors("https://b.example", "https://c.example"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, c.Mirrors())
}

func TestClientOptionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opt     Option
		wantErr string
	}{
		{name: "empty mirror", opt: WithMirrors(" "), wantErr: "mirror URL must not be empty"},
		{name: "unknown algorithm", opt: WithAlgorithm("md4"), wantErr: "unsupported digest algorithm"},
		{name: "zero attempts", opt: WithNotifyMaxAttempts(0), wantErr: "notify attempts must be at least 1"},
		{name: "zero timeout", opt: WithNotifyTimeout(0), wantErr: "notify timeout must be positive"},
		{name: "empty cache dir", opt: WithCacheDir(""), wantErr: "cache directory must not be empty"},
		{name: "missing token file", opt: WithTokenFile("/nonexistent/lookaside-token"), wantErr: "authentication file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewClient(tt.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWithTokenFile(t *testing.T) {
	t.Parallel()

	mirror := testutil.NewMirror(t)
	mirror.Add([]byte("hello"))
	tokenFile := testutil.WriteFile(t, t.TempDir(), "token", []byte("  from-file\n"))
	dir := t.TempDir()
	path := writeManifest(t, dir, recordFor(t, "a.txt", []byte("hello")))

	c, err := NewClient(WithMirrors(mirror.URL), WithTokenFile(tokenFile))
	require.NoError(t, err)
	_, err = c.Fetch(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer from-file"}, mirror.Authorization())
}

func TestWithCacheDirCreatesRoot(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := NewClient(WithCacheDir(root), WithNotifyTimeout(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, c.store)
	assert.DirExists(t, root)
}
