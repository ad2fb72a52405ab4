// Package metrics records lookaside activity as Prometheus metrics.
//
// A Recorder owns its registry; nothing is registered globally. Command-line
// runs are short-lived, so the usual way to export a Recorder is
// WriteTextfile into a node-exporter textfile collector directory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sources a fetched file can come from.
const (
	SourceLocal   = "local"
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Recorder holds lookaside counters. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	filesFetched    *prometheus.CounterVec
	fetchFailures   prometheus.Counter
	bytesDownloaded prometheus.Counter
	mirrorErrors    *prometheus.CounterVec
	entriesHealed   *prometheus.CounterVec
	unpackFailures  prometheus.Counter

	filesUploaded  prometheus.Counter
	filesSkipped   prometheus.Counter
	uploadFailures prometheus.Counter
	bytesUploaded  prometheus.Counter
	notifyRetries  prometheus.Counter

	purgeDeleted prometheus.Counter
	purgeFreed   prometheus.Counter
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,

		filesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookaside_files_present_total",
				Help: "Files made present in the working directory, by source",
			},
			[]string{"source"},
		),
		fetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_fetch_failures_total",
			Help: "Files that could not be fetched from any mirror",
		}),
		bytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_bytes_downloaded_total",
			Help: "Bytes downloaded from mirrors",
		}),
		mirrorErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookaside_mirror_errors_total",
				Help: "Failed download attempts, by mirror",
			},
			[]string{"mirror"},
		),
		entriesHealed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookaside_corrupt_entries_removed_total",
				Help: "Files deleted because they did not match their record, by location",
			},
			[]string{"location"},
		),
		unpackFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_unpack_failures_total",
			Help: "Archives that failed to unpack or set up",
		}),

		filesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_files_uploaded_total",
			Help: "Files transferred to signed upload URLs",
		}),
		filesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_files_upload_skipped_total",
			Help: "Files the upload service already had",
		}),
		uploadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_upload_failures_total",
			Help: "Files whose transfer failed",
		}),
		bytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_bytes_uploaded_total",
			Help: "Bytes transferred to signed upload URLs",
		}),
		notifyRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_upload_complete_retries_total",
			Help: "Completion notifications repeated after a conflict response",
		}),

		purgeDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_purge_deleted_total",
			Help: "Cache entries deleted by purge",
		}),
		purgeFreed: f.NewCounter(prometheus.CounterOpts{
			Name: "lookaside_purge_freed_bytes_total",
			Help: "Bytes freed by purge",
		}),
	}
}

// Registry returns the registry backing r.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

// FilePresent records a file made present from source.
func (r *Recorder) FilePresent(source string) {
	if r == nil {
		return
	}
	r.filesFetched.WithLabelValues(source).Inc()
}

// FetchFailed records a file no mirror could supply.
func (r *Recorder) FetchFailed() {
	if r == nil {
		return
	}
	r.fetchFailures.Inc()
}

// Downloaded records bytes received from a mirror.
func (r *Recorder) Downloaded(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesDownloaded.Add(float64(n))
}

// MirrorError records a failed attempt against mirror.
func (r *Recorder) MirrorError(mirror string) {
	if r == nil {
		return
	}
	r.mirrorErrors.WithLabelValues(mirror).Inc()
}

// Healed records a corrupt file removed from location ("local" or "cache").
func (r *Recorder) Healed(location string) {
	if r == nil {
		return
	}
	r.entriesHealed.WithLabelValues(location).Inc()
}

// UnpackFailed records an archive that failed to unpack or set up.
func (r *Recorder) UnpackFailed() {
	if r == nil {
		return
	}
	r.unpackFailures.Inc()
}

// Uploaded records a completed transfer of n bytes.
func (r *Recorder) Uploaded(n int64) {
	if r == nil {
		return
	}
	r.filesUploaded.Inc()
	if n > 0 {
		r.bytesUploaded.Add(float64(n))
	}
}

// UploadSkipped records a file the service already had.
func (r *Recorder) UploadSkipped() {
	if r == nil {
		return
	}
	r.filesSkipped.Inc()
}

// UploadFailed records a failed transfer.
func (r *Recorder) UploadFailed() {
	if r == nil {
		return
	}
	r.uploadFailures.Inc()
}

// NotifyRetried records a repeated completion notification.
func (r *Recorder) NotifyRetried() {
	if r == nil {
		return
	}
	r.notifyRetries.Inc()
}

// Purged records entries and bytes removed by a purge.
func (r *Recorder) Purged(deleted int, freed int64) {
	if r == nil {
		return
	}
	if deleted > 0 {
		r.purgeDeleted.Add(float64(deleted))
	}
	if freed > 0 {
		r.purgeFreed.Add(float64(freed))
	}
}
