package fileops

import (
	_ "crypto/sha256" // register sha256 with crypto.Hash
	_ "crypto/sha512" // register sha384 and sha512 with crypto.Hash
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

const (
	// DefaultChunkSize is the read size used when streaming a file through a hash.
	DefaultChunkSize = 10 << 10 // 10 KiB

	// SupportedAlgorithm is the algorithm the command line accepts and the
	// default for new records.
	SupportedAlgorithm = string(digest.SHA512)
)

// ErrUnsupportedAlgorithm is returned for algorithm names the digest engine
// cannot hash.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// Algorithm resolves an algorithm name to a go-digest algorithm.
func Algorithm(name string) (digest.Algorithm, error) {
	alg := digest.Algorithm(name)
	if !alg.Available() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return alg, nil
}

// DigestReader streams r through the named hash in DefaultChunkSize reads and
// returns the hex digest along with the number of bytes consumed.
func DigestReader(r io.Reader, algorithm string) (hexDigest string, size int64, err error) {
	alg, err := Algorithm(algorithm)
	if err != nil {
		return "", 0, err
	}

	hr := NewHashingReader(r, alg.Hash())
	buf := make([]byte, DefaultChunkSize)
	for {
		_, rerr := hr.Read(buf)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", hr.BytesRead(), rerr
		}
	}
	return hex.EncodeToString(hr.Sum()), hr.BytesRead(), nil
}

// Digest returns the hex digest and size of the file at path.
func Digest(path, algorithm string) (hexDigest string, size int64, err error) {
	f, err := os.Open(path) //nolint:gosec // callers resolve path against the manifest directory
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return DigestReader(f, algorithm)
}

// ValidHex reports whether s is a well-formed encoded digest for algorithm.
// It guards every place a digest becomes a file name or URL path element.
func ValidHex(algorithm, s string) bool {
	alg, err := Algorithm(algorithm)
	if err != nil {
		return false
	}
	return alg.Validate(s) == nil
}
