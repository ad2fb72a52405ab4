package lookaside

// FetchOption configures a Fetch operation.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	filenames        []string
	artifactManifest string
	progress         ProgressFunc
}

// FetchWithFilenames restricts network downloads to the named records.
//
// Every record is still checked locally and in the cache; records outside the
// list that are not already available are reported as skipped.
func FetchWithFilenames(names ...string) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.filenames = append(cfg.filenames, names...)
	}
}

// FetchWithArtifactManifest writes a JSON document to path describing every
// file downloaded from a mirror during the fetch, keyed by filename.
func FetchWithArtifactManifest(path string) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.artifactManifest = path
	}
}

// FetchWithProgress sets a callback for per-file progress events.
func FetchWithProgress(fn ProgressFunc) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.progress = fn
	}
}
