// Package pathutil confines slash-separated archive member paths to a root
// directory on the local filesystem.
package pathutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapes is returned for a member path that is absolute or leaves the root.
var ErrEscapes = errors.New("path escapes root")

// Join resolves the slash-separated member path under rootAbs, which must be
// absolute and clean. Absolute members, volume names and ".." components that
// climb above the root are rejected.
func Join(rootAbs, member string) (string, error) {
	if member == "" {
		return "", fmt.Errorf("%w: empty name", ErrEscapes)
	}
	slashed := filepath.ToSlash(member)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(member) || filepath.VolumeName(member) != "" {
		return "", fmt.Errorf("%w: %s", ErrEscapes, member)
	}
	target := filepath.Join(rootAbs, filepath.FromSlash(slashed))
	if !Within(rootAbs, target) {
		return "", fmt.Errorf("%w: %s", ErrEscapes, member)
	}
	return target, nil
}

// Link checks a symlink target relative to the directory holding linkPath.
// The target is walked one element at a time, following links that already
// exist on disk, and must stay under rootAbs at every step. Absolute targets
// and ".." after an element that does not exist yet are rejected.
func Link(rootAbs, linkPath, target string) error {
	if target == "" || strings.HasPrefix(target, "/") || filepath.IsAbs(target) || filepath.VolumeName(target) != "" {
		return fmt.Errorf("%w: link to %q", ErrEscapes, target)
	}
	cur := filepath.Dir(linkPath)
	missing := false
	for _, elem := range strings.Split(filepath.ToSlash(target), "/") {
		switch elem {
		case "", ".":
			continue
		case "..":
			if missing {
				return fmt.Errorf("%w: link to %q", ErrEscapes, target)
			}
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, elem)
			if missing {
				break
			}
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				missing = true
				break
			}
			cur = resolved
		}
		if !Within(rootAbs, cur) {
			return fmt.Errorf("%w: link to %q", ErrEscapes, target)
		}
	}
	return nil
}

// NoSymlinkParents verifies that no existing directory between rootAbs and
// target is a symlink, so writing target cannot be redirected elsewhere.
func NoSymlinkParents(rootAbs, target string) error {
	rel, err := filepath.Rel(rootAbs, filepath.Dir(target))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEscapes, target)
	}
	if rel == "." {
		return nil
	}
	cur := rootAbs
	for _, elem := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, elem)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symlink", ErrEscapes, cur)
		}
	}
	return nil
}

// Within reports whether path is rootAbs or lies beneath it.
func Within(rootAbs, path string) bool {
	clean := filepath.Clean(path)
	return clean == rootAbs || strings.HasPrefix(clean, rootAbs+string(os.PathSeparator))
}
