package lookaside

import (
	"errors"

	"github.com/meigma/lookaside/internal/fileops"
	"github.com/meigma/lookaside/manifest"
)

// Errors re-exported from manifest.
var (
	// ErrInvalidManifest is returned when a manifest document is missing or malformed.
	ErrInvalidManifest = manifest.ErrInvalidManifest

	// ErrBadFilename is returned when a record's filename contains a path separator.
	ErrBadFilename = manifest.ErrBadFilename

	// ErrNameCollision is returned when Add would replace a record with different content.
	ErrNameCollision = manifest.ErrNameCollision

	// ErrBadVisibility is returned for a visibility other than internal or public.
	ErrBadVisibility = manifest.ErrBadVisibility
)

// ErrUnsupportedAlgorithm is returned for a digest algorithm that cannot be computed.
var ErrUnsupportedAlgorithm = fileops.ErrUnsupportedAlgorithm

var (
	// ErrUploadPrecondition is returned by Upload, before any network call,
	// when a record is not present and valid locally or has no visibility.
	ErrUploadPrecondition = errors.New("manifest not ready for upload")

	// ErrNoCache is returned by Purge when the client has no cache directory.
	ErrNoCache = errors.New("no cache configured")

	// ErrNoMirrors is returned when an operation needs a mirror URL and none is configured.
	ErrNoMirrors = errors.New("no mirror URLs configured")

	// ErrAllMirrorsFailed is recorded for a file no mirror could supply.
	ErrAllMirrorsFailed = errors.New("no mirror supplied the file")

	// ErrBadDigest is recorded for a record whose digest is not well-formed
	// hex for its algorithm. Such a record is never requested from a mirror.
	ErrBadDigest = errors.New("malformed digest")

	// ErrContentMismatch is recorded when downloaded or cached bytes do not
	// match the record's size and digest.
	ErrContentMismatch = errors.New("content does not match record")

	// ErrNotAcknowledged is recorded when the service never accepted an
	// upload completion notification within the retry budget.
	ErrNotAcknowledged = errors.New("upload completion not acknowledged")
)
