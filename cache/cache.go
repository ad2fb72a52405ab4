// Package cache defines the local content cache shared by lookaside runs.
//
// A cache is a flat directory holding one regular file per artifact, named by
// the artifact's hex digest. Entries are never trusted: every reader validates
// what it finds and deletes mismatches. The modification time of an entry is
// its only recency signal and is refreshed on every read and write.
package cache

import (
	"context"
	"io"
)

// Store provides digest-keyed storage for artifact files.
//
// Implementations must be safe for concurrent use by multiple processes
// without locking; writes land through an atomic rename.
type Store interface {
	// Lookup returns the path of the entry named digest, if present.
	Lookup(digest string) (string, bool)

	// Put stores the content read from r under digest and touches it.
	Put(ctx context.Context, digest string, r io.Reader) error

	// PutFile copies the file at path into the store under digest.
	PutFile(ctx context.Context, digest, path string) error

	// Touch refreshes the entry's modification time.
	Touch(digest string) error

	// Delete removes the entry. A missing entry is not an error.
	Delete(digest string) error
}

// Purger evicts entries to reclaim disk space.
type Purger interface {
	// Purge deletes entries oldest first until at least targetFreeBytes are
	// free on the cache's filesystem. A target of zero deletes every entry.
	Purge(ctx context.Context, targetFreeBytes uint64) (PurgeStats, error)
}

// PurgeStats summarizes a purge.
type PurgeStats struct {
	Deleted int   // entries removed
	Freed   int64 // bytes removed
	Failed  int   // entries that could not be removed
}
