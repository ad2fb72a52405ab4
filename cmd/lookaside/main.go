// Command lookaside fetches, validates, records and uploads the artifacts a
// manifest lists, and maintains the shared cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meigma/lookaside"
	"github.com/meigma/lookaside/metrics"
)

const userAgent = "lookaside/1"

// errFailed signals a command that ran but did not succeed; it has already
// been reported through the logger.
var errFailed = errors.New("command failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	o, rest, err := parseArgs(args, getenv)
	if errors.Is(err, pflag.ErrHelp) || (err == nil && o.help) {
		printUsage(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		printUsage(stderr)
		return 1
	}
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "error: no command given")
		printUsage(stderr)
		return 1
	}

	logger := newLogger(stderr, o)
	var rec *metrics.Recorder
	if o.metricsFile != "" {
		rec = metrics.New()
	}

	err = dispatch(ctx, o, rest[0], rest[1:], stdout, logger, rec)
	if rec != nil {
		if werr := rec.WriteTextfile(o.metricsFile); werr != nil {
			logger.Error("failed to write metrics", "path", o.metricsFile, "error", werr)
		}
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFailed):
		return 1
	default:
		logger.Error(rest[0]+" failed", "error", err)
		return 1
	}
}

func newLogger(w io.Writer, o options) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case o.verbose:
		level = slog.LevelDebug
	case o.quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newClient builds a client from the options every command shares.
func newClient(o options, logger *slog.Logger, rec *metrics.Recorder) (*lookaside.Client, error) {
	if o.algorithm != lookaside.DefaultAlgorithm {
		return nil, fmt.Errorf("%w: %q (only %s is supported)", lookaside.ErrUnsupportedAlgorithm, o.algorithm, lookaside.DefaultAlgorithm)
	}
	opts := []lookaside.Option{
		lookaside.WithLogger(logger),
		lookaside.WithMetrics(rec),
		lookaside.WithUserAgent(userAgent),
		lookaside.WithAlgorithm(o.algorithm),
	}
	if len(o.urls) > 0 {
		opts = append(opts, lookaside.WithMirrors(o.urls...))
	}
	if o.region != "" {
		opts = append(opts, lookaside.WithRegion(o.region))
	}
	if o.cacheDir != "" {
		opts = append(opts, lookaside.WithCacheDir(o.cacheDir))
	}
	if o.tokenFile != "" {
		opts = append(opts, lookaside.WithTokenFile(o.tokenFile))
	}
	return lookaside.NewClient(opts...)
}

func dispatch(ctx context.Context, o options, command string, args []string, stdout io.Writer, logger *slog.Logger, rec *metrics.Recorder) error {
	cmd, ok := commands[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	c, err := newClient(o, logger, rec)
	if err != nil {
		return err
	}
	return cmd(ctx, c, o, args, stdout, logger)
}
