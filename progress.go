package lookaside

// ProgressStage identifies the current phase of an operation.
type ProgressStage int

// Progress stages reported by Fetch and Upload.
const (
	// StageResolved indicates a record became present without a download.
	StageResolved ProgressStage = iota
	// StageDownloaded indicates a record was downloaded and installed.
	StageDownloaded
	// StageFailed indicates a record could not be made present or transferred.
	StageFailed
	// StageUnpacked indicates an archive was extracted and set up.
	StageUnpacked
	// StageUploaded indicates a file was transferred to the service.
	StageUploaded
)

// String implements fmt.Stringer.
func (s ProgressStage) String() string {
	switch s {
	case StageResolved:
		return "resolved"
	case StageDownloaded:
		return "downloaded"
	case StageFailed:
		return "failed"
	case StageUnpacked:
		return "unpacked"
	case StageUploaded:
		return "uploaded"
	default:
		return "unknown"
	}
}

// ProgressEvent reports that one file reached a stage.
type ProgressEvent struct {
	Stage    ProgressStage
	Filename string
	Source   string // local, cache, or the mirror URL; empty outside fetch
	Bytes    int64  // bytes transferred for this file, if any
	Err      error  // set for StageFailed
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

func (fn ProgressFunc) emit(ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}
