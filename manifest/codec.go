package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// recordJSON is the wire form of a FileRecord. Pointer fields distinguish a
// missing key from a zero value.
type recordJSON struct {
	Filename   *string `json:"filename"`
	Size       *int64  `json:"size"`
	Algorithm  *string `json:"algorithm"`
	Digest     *string `json:"digest"`
	Unpack     bool    `json:"unpack,omitempty"`
	Visibility string  `json:"visibility,omitempty"`
	Setup      string  `json:"setup,omitempty"`
}

// Load decodes a manifest document.
func Load(r io.Reader) (Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if raw == nil {
		// "null" decodes into a nil slice without error.
		return Manifest{}, fmt.Errorf("%w: document is not a list", ErrInvalidManifest)
	}

	m := Manifest{Records: make([]FileRecord, 0, len(raw))}
	for i, item := range raw {
		rec, err := decodeRecord(item)
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: record %d: %w", ErrInvalidManifest, i, err)
		}
		m.Records = append(m.Records, rec)
	}
	return m, nil
}

func decodeRecord(item json.RawMessage) (FileRecord, error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return FileRecord{}, errors.New("not an object")
	}

	var rj recordJSON
	if err := json.Unmarshal(trimmed, &rj); err != nil {
		return FileRecord{}, err
	}
	switch {
	case rj.Filename == nil:
		return FileRecord{}, errors.New("missing filename")
	case rj.Size == nil:
		return FileRecord{}, errors.New("missing size")
	case rj.Algorithm == nil:
		return FileRecord{}, errors.New("missing algorithm")
	case rj.Digest == nil:
		return FileRecord{}, errors.New("missing digest")
	}

	rec := FileRecord{
		Filename:   *rj.Filename,
		Size:       *rj.Size,
		Algorithm:  *rj.Algorithm,
		Digest:     *rj.Digest,
		Unpack:     rj.Unpack,
		Visibility: Visibility(rj.Visibility),
		Setup:      rj.Setup,
	}
	if err := rec.check(); err != nil {
		return FileRecord{}, err
	}
	return rec, nil
}

// Dump encodes m as a manifest document followed by a trailing newline.
func Dump(w io.Writer, m Manifest) error {
	out := make([]recordJSON, 0, len(m.Records))
	for i := range m.Records {
		r := &m.Records[i]
		out = append(out, recordJSON{
			Filename:   &r.Filename,
			Size:       &r.Size,
			Algorithm:  &r.Algorithm,
			Digest:     &r.Digest,
			Unpack:     r.Unpack,
			Visibility: string(r.Visibility),
			Setup:      r.Setup,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// LoadFile reads and decodes the manifest at path.
func LoadFile(path string) (Manifest, error) {
	f, err := os.Open(path) //nolint:gosec // manifest path is supplied by the caller
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	defer f.Close()
	return Load(f)
}

// DumpFile writes m to path, replacing any existing document atomically.
func DumpFile(path string, m Manifest) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := Dump(tmp, m); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
