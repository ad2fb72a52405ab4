package lookaside

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lookasidehttp "github.com/meigma/lookaside/http"
	"github.com/meigma/lookaside/internal/testutil"
	"github.com/meigma/lookaside/manifest"
)

// uploadDir writes each file into a fresh directory and a manifest listing
// them with internal visibility.
func uploadDir(t *testing.T, files map[string]string) (dir, manifestPath string) {
	t.Helper()
	dir = t.TempDir()
	var records []manifest.FileRecord
	for name, body := range files {
		testutil.WriteFile(t, dir, name, []byte(body))
		r := recordFor(t, name, []byte(body))
		r.Visibility = manifest.VisibilityInternal
		records = append(records, r)
	}
	return dir, writeManifest(t, dir, records...)
}

func TestUploadRequiresVisibility(t *testing.T) {
	t.Parallel()

	svc := testutil.NewUploadService(t)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.txt", []byte("hello"))
	path := writeManifest(t, dir, recordFor(t, "a.txt", []byte("hello")))
	c := newTestClient(t, WithMirrors(svc.URL))

	_, err := c.Upload(context.Background(), path, "msg")
	require.ErrorIs(t, err, ErrUploadPrecondition)
	assert.Contains(t, err.Error(), "visibility")
	assert.Zero(t, svc.Calls())
}

func TestUploadRequiresValidFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		local []byte
	}{
		{name: "absent"},
		{name: "corrupt", local: []byte("HELLO")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := testutil.NewUploadService(t)
			dir := t.TempDir()
			if tt.local != nil {
				testutil.WriteFile(t, dir, "a.txt", tt.local)
			}
			r := recordFor(t, "a.txt", []byte("hello"))
			r.Visibility = manifest.VisibilityPublic
			path := writeManifest(t, dir, r)
			c := newTestClient(t, WithMirrors(svc.URL))

			_, err := c.Upload(context.Background(), path, "msg")
			require.ErrorIs(t, err, ErrUploadPrecondition)
			assert.Zero(t, svc.Calls())
		})
	}
}

func TestUploadTransfersMissingFiles(t *testing.T) {
	t.Parallel()

	svc := testutil.NewUploadService(t)
	_, path := uploadDir(t, map[string]string{"new.bin": "fresh bytes", "old.bin": "stored already"})
	svc.Have(testutil.SHA512([]byte("stored already")))
	c := newTestClient(t, WithMirrors(svc.URL), WithToken("s3cret"))

	res, err := c.Upload(context.Background(), path, "bug 123: new toolchain")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"new.bin"}, res.Uploaded)
	assert.Equal(t, []string{"old.bin"}, res.Skipped)
	assert.Empty(t, res.Unacknowledged)

	got, ok := svc.Received("new.bin")
	require.True(t, ok)
	assert.Equal(t, "fresh bytes", string(got))
	_, ok = svc.Received("old.bin")
	assert.False(t, ok)
	assert.Equal(t, []string{""}, svc.PutAuthorization(), "signed URLs must not receive the token")

	batches := svc.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "bug 123: new toolchain", batches[0].Message)
	assert.Equal(t, testutil.UploadFile{
		Size:       11,
		Digest:     testutil.SHA512([]byte("fresh bytes")),
		Algorithm:  "sha512",
		Visibility: "internal",
	}, batches[0].Files["new.bin"])

	assert.Equal(t, 1, svc.Completions(testutil.SHA512([]byte("fresh bytes"))))
	assert.Zero(t, svc.Completions(testutil.SHA512([]byte("stored already"))))
}

func TestUploadManyFilesInParallel(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files[name+".bin"] = "content of " + name
	}
	svc := testutil.NewUploadService(t)
	_, path := uploadDir(t, files)
	c := newTestClient(t, WithMirrors(svc.URL))

	var events []ProgressEvent
	done := make(chan ProgressEvent, len(files))
	res, err := c.Upload(context.Background(), path, "batch", UploadWithProgress(func(ev ProgressEvent) {
		done <- ev
	}))
	require.NoError(t, err)
	close(done)
	for ev := range done {
		events = append(events, ev)
	}

	assert.True(t, res.OK())
	assert.Len(t, res.Uploaded, len(files))
	assert.Len(t, events, len(files))
	for name, body := range files {
		got, ok := svc.Received(name)
		require.True(t, ok, name)
		assert.Equal(t, body, string(got))
	}
}

func TestUploadPartialFailure(t *testing.T) {
	t.Parallel()

	svc := testutil.NewUploadService(t)
	_, path := uploadDir(t, map[string]string{"good.bin": "good", "bad.bin": "bad"})
	svc.FailPut("bad.bin")
	c := newTestClient(t, WithMirrors(svc.URL))

	res, err := c.Upload(context.Background(), path, "msg")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"good.bin"}, res.Uploaded)
	require.Contains(t, res.Failed, "bad.bin")
	assert.ErrorIs(t, res.Failed["bad.bin"], lookasidehttp.ErrStatus)

	assert.Equal(t, 1, svc.Completions(testutil.SHA512([]byte("good"))))
	assert.Zero(t, svc.Completions(testutil.SHA512([]byte("bad"))), "failed uploads are not acknowledged")
}

func TestUploadNegotiationRejected(t *testing.T) {
	t.Parallel()

	svc := testutil.NewUploadService(t)
	svc.RejectBatches(403)
	_, path := uploadDir(t, map[string]string{"a.bin": "a"})
	c := newTestClient(t, WithMirrors(svc.URL))

	_, err := c.Upload(context.Background(), path, "msg")
	var apiErr *lookasidehttp.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.StatusCode)
	assert.Equal(t, "Forbidden", apiErr.Name)
	assert.Equal(t, 1, svc.Calls(), "no transfer after a rejected batch")
}

func TestUploadNegotiatesWithFirstMirrorOnly(t *testing.T) {
	t.Parallel()

	first := testutil.NewUploadService(t)
	second := testutil.NewUploadService(t)
	_, path := uploadDir(t, map[string]string{"a.bin": "a"})
	c := newTestClient(t, WithMirrors(first.URL, second.URL))

	res, err := c.Upload(context.Background(), path, "msg")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NotZero(t, first.Calls())
	assert.Zero(t, second.Calls())
}

func TestUploadWithoutMirrors(t *testing.T) {
	t.Parallel()

	_, path := uploadDir(t, map[string]string{"a.bin": "a"})
	c := newTestClient(t)

	_, err := c.Upload(context.Background(), path, "msg")
	require.ErrorIs(t, err, ErrNoMirrors)
}

func TestUploadRetriesCompletionOnConflict(t *testing.T) {
	t.Parallel()

	svc := testutil.NewUploadService(t)
	svc.Conflicts(2, "0")
	_, path := uploadDir(t, map[string]string{"a.bin": "a"})
	c := newTestClient(t, WithMirrors(svc.URL))

	res, err := c.Upload(context.Background(), path, "msg")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, res.Unacknowledged)
	assert.Equal(t, 3, svc.Completions(testutil.SHA512([]byte("a"))))
}

func TestUploadCompletionRetryIsBounded(t *testing.T) {
	t.Parallel()

	t.Run("attempts", func(t *testing.T) {
		t.Parallel()
		svc := testutil.NewUploadService(t)
		svc.Conflicts(1000, "0")
		_, path := uploadDir(t, map[string]string{"a.bin": "a"})
		c := newTestClient(t, WithMirrors(svc.URL), WithNotifyMaxAttempts(3))

		res, err := c.Upload(context.Background(), path, "msg")
		require.NoError(t, err)
		assert.True(t, res.OK(), "acknowledgement failures do not fail the upload")
		require.Contains(t, res.Unacknowledged, "a.bin")
		assert.ErrorIs(t, res.Unacknowledged["a.bin"], ErrNotAcknowledged)
		assert.Equal(t, 3, svc.Completions(testutil.SHA512([]byte("a"))))
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		svc := testutil.NewUploadService(t)
		svc.Conflicts(1000, "60")
		_, path := uploadDir(t, map[string]string{"a.bin": "a"})
		c := newTestClient(t, WithMirrors(svc.URL), WithNotifyTimeout(50*time.Millisecond))

		start := time.Now()
		res, err := c.Upload(context.Background(), path, "msg")
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 30*time.Second)
		require.Contains(t, res.Unacknowledged, "a.bin")
		assert.ErrorIs(t, res.Unacknowledged["a.bin"], context.DeadlineExceeded)
	})
}

func TestUploadInvalidManifest(t *testing.T) {
	t.Parallel()

	svc := testutil.NewUploadService(t)
	c := newTestClient(t, WithMirrors(svc.URL))

	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.tt"), "msg")
	require.ErrorIs(t, err, ErrInvalidManifest)
	assert.Zero(t, svc.Calls())
}
