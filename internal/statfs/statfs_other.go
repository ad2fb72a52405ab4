//go:build !linux && !darwin && !freebsd && !windows

package statfs

// Free is not implemented on this platform.
func Free(string) (uint64, error) {
	return 0, ErrUnsupported
}
