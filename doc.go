// Package lookaside keeps large binary artifacts out of version control.
//
// A small JSON manifest, checked in next to the code, records each artifact's
// filename, size and digest. [Client] synchronizes the real bytes between the
// manifest's directory, an optional shared disk cache, and one or more HTTP
// mirrors of an artifact service.
//
// # Quick Start
//
// Fetch everything a manifest lists:
//
//	c, err := lookaside.NewClient(
//	    lookaside.WithMirrors("https://tooltool.example.com"),
//	    lookaside.WithCacheDir("/var/cache/lookaside"),
//	)
//	if err != nil {
//	    return err
//	}
//	res, err := c.Fetch(ctx, "manifest.tt")
//	if err != nil {
//	    return err // the manifest itself could not be read
//	}
//	if !res.OK() {
//	    return fmt.Errorf("fetch failed for %v", res.FailedNames())
//	}
//
// Record a new artifact and upload it:
//
//	_, err = c.Add("manifest.tt", []string{"toolchain.tar.xz"},
//	    lookaside.AddWithVisibility(manifest.VisibilityInternal),
//	    lookaside.AddWithUnpack(true),
//	)
//	res, err := c.Upload(ctx, "manifest.tt", "toolchain 1.4 for linux64")
//
// # Fetch
//
// Each record is resolved independently, in manifest order: a valid file
// already in the manifest directory is kept; an invalid one is deleted. Then
// the cache is consulted, and any entry that fails validation is deleted from
// the cache. Finally the mirrors are tried in order. Downloads land in a
// uniquely named temporary file and are renamed into place only after the
// size and digest match. Archives marked unpack are extracted once every
// record has been processed.
//
// A failure on one record never stops the others; [FetchResult] lists every
// outcome. Only an unreadable manifest or a cancelled context is returned as
// an error.
//
// # Upload
//
// Upload refuses to start unless every record validates locally and has a
// visibility. It negotiates the whole manifest with the first mirror, PUTs
// each file the service asks for in its own goroutine, and then acknowledges
// each completed transfer, retrying while the service answers 409.
//
// # Cache
//
// The cache directory is flat and shared between concurrent runs without
// locking. [Client.Purge] evicts the oldest entries until a free-space target
// is met.
package lookaside
