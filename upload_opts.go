package lookaside

// UploadOption configures an Upload operation.
type UploadOption func(*uploadConfig)

type uploadConfig struct {
	progress ProgressFunc
}

// UploadWithProgress sets a callback for per-file progress events.
// The callback is invoked from worker goroutines.
func UploadWithProgress(fn ProgressFunc) UploadOption {
	return func(cfg *uploadConfig) {
		cfg.progress = fn
	}
}
