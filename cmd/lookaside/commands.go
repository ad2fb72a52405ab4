package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"text/tabwriter"

	"github.com/meigma/lookaside"
	"github.com/meigma/lookaside/manifest"
)

type command func(ctx context.Context, c *lookaside.Client, o options, args []string, stdout io.Writer, logger *slog.Logger) error

var commands = map[string]command{
	"list":     runList,
	"validate": runValidate,
	"add":      runAdd,
	"fetch":    runFetch,
	"upload":   runUpload,
	"purge":    runPurge,
}

func runList(_ context.Context, c *lookaside.Client, o options, args []string, stdout io.Writer, _ *slog.Logger) error {
	if len(args) > 0 {
		return errors.New("list takes no arguments")
	}
	m, err := c.List(o.manifest)
	if err != nil {
		return err
	}
	dir := filepath.Dir(o.manifest)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tSIZE\tFILENAME")
	for _, r := range m.Records {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.ValidateIn(dir), r.Size, r.Filename)
	}
	return tw.Flush()
}

func runValidate(_ context.Context, c *lookaside.Client, o options, args []string, _ io.Writer, logger *slog.Logger) error {
	res, err := c.Validate(o.manifest, args...)
	if err != nil {
		return err
	}
	for _, name := range res.Unknown {
		logger.Error("file not in manifest", "file", name)
	}
	if !res.OK() {
		return errFailed
	}
	logger.Info("all files valid", "files", len(res.States))
	return nil
}

func runAdd(_ context.Context, c *lookaside.Client, o options, args []string, _ io.Writer, _ *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("add needs at least one file")
	}
	vis, err := manifest.ParseVisibility(o.visibility)
	if err != nil {
		return err
	}
	_, err = c.Add(o.manifest, args,
		lookaside.AddWithVisibility(vis),
		lookaside.AddWithUnpack(o.unpack),
		lookaside.AddWithSetup(o.setup),
	)
	return err
}

func runFetch(ctx context.Context, c *lookaside.Client, o options, args []string, _ io.Writer, logger *slog.Logger) error {
	opts := []lookaside.FetchOption{lookaside.FetchWithFilenames(args...)}
	if o.artifactManifest != "" {
		opts = append(opts, lookaside.FetchWithArtifactManifest(o.artifactManifest))
	}
	res, err := c.Fetch(ctx, o.manifest, opts...)
	if err != nil {
		return err
	}
	if !res.OK() {
		logger.Error("some files could not be fetched", "files", res.FailedNames())
		return errFailed
	}
	logger.Info("fetch complete", "present", len(res.Present), "downloaded", len(res.Fetched), "skipped", len(res.Skipped))
	return nil
}

func runUpload(ctx context.Context, c *lookaside.Client, o options, args []string, _ io.Writer, logger *slog.Logger) error {
	if len(args) > 0 {
		return errors.New("upload takes no arguments; it sends the whole manifest")
	}
	if o.message == "" {
		return errors.New("upload needs --message")
	}
	res, err := c.Upload(ctx, o.manifest, o.message)
	if err != nil {
		return err
	}
	if !res.OK() {
		for name, ferr := range res.Failed {
			logger.Error("upload failed", "file", name, "error", ferr)
		}
		return errFailed
	}
	logger.Info("upload complete", "uploaded", len(res.Uploaded), "skipped", len(res.Skipped))
	return nil
}

func runPurge(ctx context.Context, c *lookaside.Client, o options, args []string, _ io.Writer, _ *slog.Logger) error {
	if len(args) > 0 {
		return errors.New("purge takes no arguments")
	}
	target, err := gigabytes(o.sizeGB)
	if err != nil {
		return err
	}
	_, err = c.Purge(ctx, target)
	return err
}

func gigabytes(gb float64) (uint64, error) {
	if gb < 0 || math.IsNaN(gb) || math.IsInf(gb, 0) {
		return 0, fmt.Errorf("invalid --size %v", gb)
	}
	bytes := gb * (1 << 30)
	if bytes >= math.MaxUint64 {
		return 0, fmt.Errorf("--size %v is too large", gb)
	}
	return uint64(bytes), nil
}
