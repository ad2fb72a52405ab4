package lookaside

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	lookasidehttp "github.com/meigma/lookaside/http"
	"github.com/meigma/lookaside/manifest"
)

// UploadResult reports the outcome of an upload.
type UploadResult struct {
	// Uploaded lists files transferred to the service.
	Uploaded []string
	// Skipped lists files the service already had.
	Skipped []string
	// Failed maps files whose transfer failed to the reason.
	Failed map[string]error
	// Unacknowledged maps uploaded files whose completion notification was
	// never accepted. It does not affect OK.
	Unacknowledged map[string]error
}

// OK reports whether every transfer the service asked for succeeded.
func (r UploadResult) OK() bool {
	return len(r.Failed) == 0
}

type uploadJob struct {
	record manifest.FileRecord
	putURL string
}

// Upload sends every file of the manifest at manifestPath that the service
// does not already store.
//
// Before any network call, every record must be valid in the manifest's
// directory and must have a visibility; otherwise Upload returns
// ErrUploadPrecondition. A failed negotiation is returned as an error.
// Transfer failures are reported per file in the result.
func (c *Client) Upload(ctx context.Context, manifestPath, message string, opts ...UploadOption) (UploadResult, error) {
	cfg := uploadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := manifest.LoadFile(manifestPath)
	if err != nil {
		return UploadResult{}, err
	}
	dir := filepath.Dir(manifestPath)

	if err := checkUploadable(dir, m); err != nil {
		return UploadResult{}, err
	}
	if len(c.mirrors) == 0 {
		return UploadResult{}, ErrNoMirrors
	}
	base := c.mirrors[0]

	batch := lookasidehttp.UploadRequest{
		Message: message,
		Files:   make(map[string]lookasidehttp.UploadFile, m.Len()),
	}
	for _, r := range m.Records {
		batch.Files[r.Filename] = lookasidehttp.UploadFile{
			Size:       r.Size,
			Digest:     r.Digest,
			Algorithm:  r.Algorithm,
			Visibility: string(r.Visibility),
		}
	}

	c.log().Info("negotiating upload", "mirror", base, "files", m.Len(), "authenticated", c.http.Authenticated())
	grants, err := c.http.Negotiate(ctx, base, batch)
	if err != nil {
		return UploadResult{}, fmt.Errorf("negotiate upload: %w", err)
	}

	res := UploadResult{
		Failed:         make(map[string]error),
		Unacknowledged: make(map[string]error),
	}
	var jobs []uploadJob
	for _, r := range m.Records {
		grant, ok := grants.Files[r.Filename]
		if !ok || grant.PutURL == "" {
			c.log().Info("already stored, skipping", "file", r.Filename)
			res.Skipped = append(res.Skipped, r.Filename)
			c.metrics.UploadSkipped()
			continue
		}
		jobs = append(jobs, uploadJob{record: r, putURL: grant.PutURL})
	}

	// One goroutine per file; each writes only its own slot.
	errs := make([]error, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			n, err := c.http.Put(ctx, job.putURL, job.record.Path(dir))
			if err != nil {
				errs[i] = err
				c.metrics.UploadFailed()
				cfg.progress.emit(ProgressEvent{Stage: StageFailed, Filename: job.record.Filename, Err: err})
				return nil
			}
			c.metrics.Uploaded(n)
			cfg.progress.emit(ProgressEvent{Stage: StageUploaded, Filename: job.record.Filename, Bytes: n})
			return nil
		})
	}
	_ = g.Wait()

	var done []manifest.FileRecord
	for i, job := range jobs {
		name := job.record.Filename
		if errs[i] != nil {
			c.log().Error("upload failed", "file", name, "error", errs[i])
			res.Failed[name] = errs[i]
			continue
		}
		c.log().Info("uploaded", "file", name)
		res.Uploaded = append(res.Uploaded, name)
		done = append(done, job.record)
	}

	c.notifyAll(ctx, base, done, &res)
	return res, nil
}

// checkUploadable verifies every record is valid on disk and has a visibility.
func checkUploadable(dir string, m manifest.Manifest) error {
	var problems []error
	for _, r := range m.Records {
		if state := r.ValidateIn(dir); state != manifest.Valid {
			problems = append(problems, fmt.Errorf("%s is %s", r.Filename, state))
		}
		if r.Visibility == manifest.VisibilityUnset {
			problems = append(problems, fmt.Errorf("%s has no visibility", r.Filename))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUploadPrecondition, errors.Join(problems...))
}

// notifyAll acknowledges each uploaded file. Failures are logged and recorded
// in res.Unacknowledged only.
func (c *Client) notifyAll(ctx context.Context, base string, records []manifest.FileRecord, res *UploadResult) {
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
	defer cancel()

	for _, r := range records {
		if err := c.notify(ctx, base, r); err != nil {
			c.log().Warn("upload completion not acknowledged", "file", r.Filename, "error", err)
			res.Unacknowledged[r.Filename] = err
		}
	}
}

// notify announces one completed upload, waiting and repeating while the
// service answers 409, at most notifyMaxAttempts times.
func (c *Client) notify(ctx context.Context, base string, r manifest.FileRecord) error {
	for attempt := 1; ; attempt++ {
		delay, err := c.http.Complete(ctx, base, r.Algorithm, r.Digest)
		if err == nil {
			c.log().Debug("upload acknowledged", "file", r.Filename, "attempts", attempt)
			return nil
		}
		if !errors.Is(err, lookasidehttp.ErrRetryLater) {
			return err
		}
		if attempt >= c.notifyMaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrNotAcknowledged, attempt)
		}

		c.log().Debug("upload URL still valid, waiting", "file", r.Filename, "retry_after", delay)
		c.metrics.NotifyRetried()
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", ErrNotAcknowledged, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
