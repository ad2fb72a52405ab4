// Package statfs reports free space on the filesystem holding a path.
package statfs

import "errors"

// ErrUnsupported is returned on platforms without a free-space query.
var ErrUnsupported = errors.New("free space query not supported on this platform")

// Func reports the bytes available to an unprivileged user on the
// filesystem holding path.
type Func func(path string) (uint64, error)
