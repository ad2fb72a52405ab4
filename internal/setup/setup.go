// Package setup runs the post-unpack command an archive record may name.
package setup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Error describes a setup command that failed.
type Error struct {
	Command  string
	Dir      string
	ExitCode int
	Output   string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("setup %q in %s failed with exit code %d: %v", e.Command, e.Dir, e.ExitCode, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Run executes command with dir as its working directory. A file named
// command inside dir takes precedence over a command found on PATH.
func Run(ctx context.Context, dir, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	name := command
	if info, err := os.Stat(filepath.Join(dir, command)); err == nil && info.Mode().IsRegular() {
		name = "." + string(filepath.Separator) + command
	}

	cmd := exec.CommandContext(ctx, name) //nolint:gosec // command comes from a content-verified manifest
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Info("running setup", slog.String("command", command), slog.String("dir", dir))
	err := cmd.Run()
	if out.Len() > 0 {
		logger.Debug("setup output", slog.String("command", command), slog.String("output", out.String()))
	}
	if err == nil {
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &Error{
		Command:  command,
		Dir:      dir,
		ExitCode: exitCode,
		Output:   out.String(),
		Err:      err,
	}
}
