package manifest

import "errors"

var (
	// ErrBadFilename is returned when a record's filename contains a path separator.
	ErrBadFilename = errors.New("filename must not contain a path separator")

	// ErrBadVisibility is returned for a visibility other than internal or public.
	ErrBadVisibility = errors.New("invalid visibility")

	// ErrInvalidManifest is returned when a manifest document is missing or
	// cannot be decoded.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrNameCollision is returned by Add when a different record already uses
	// the same filename.
	ErrNameCollision = errors.New("filename already in manifest with different content")
)
