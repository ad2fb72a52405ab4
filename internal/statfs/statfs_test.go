//go:build linux || darwin || freebsd || windows

package statfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFree(t *testing.T) {
	t.Parallel()

	free, err := Free(t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, free, "a writable temp dir must report free space")
}

func TestFreeMissingPath(t *testing.T) {
	t.Parallel()

	_, err := Free("/nonexistent/lookaside/statfs")
	assert.Error(t, err)
}
