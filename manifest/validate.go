package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/meigma/lookaside/internal/fileops"
)

// State is the outcome of checking a file against its record.
type State int

const (
	// Absent means no file exists at the path.
	Absent State = iota
	// Invalid means a file exists but its size or digest differs from the record.
	Invalid
	// Valid means the file matches the record's size and digest.
	Valid
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	default:
		return "unknown"
	}
}

// Validate checks the file at path against r. The digest is only computed
// when the size matches. A file that cannot be checked counts as Invalid;
// use Check to tell that apart from a mismatch.
func Validate(r FileRecord, path string) State {
	state, _ := Check(r, path)
	return state
}

// Check is Validate with the reason a file could not be checked. A non-nil
// error means the file exists but its content is unknown: it was unreadable,
// not a regular file, or the algorithm could not be computed. Invalid with a
// nil error always means a size or digest mismatch.
func Check(r FileRecord, path string) (State, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Absent, nil
	}
	if err != nil {
		return Invalid, err
	}
	if !info.Mode().IsRegular() {
		return Invalid, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() != r.Size {
		return Invalid, nil
	}

	got, _, err := fileops.Digest(path, r.Algorithm)
	if err != nil {
		return Invalid, err
	}
	if got != r.Digest {
		return Invalid, nil
	}
	return Valid, nil
}

// ValidateIn checks r against the file of the same name in dir.
func (r FileRecord) ValidateIn(dir string) State {
	return Validate(r, r.Path(dir))
}

// CheckIn is Check against the file of the same name in dir.
func (r FileRecord) CheckIn(dir string) (State, error) {
	return Check(r, r.Path(dir))
}
