// Package artifact tracks the filesystem outputs steps exchange. Each
// artifact is identified by its absolute path plus a content fingerprint;
// the fingerprint recorded at a step's last successful run is the
// authoritative staleness signal for every step downstream of it.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Fingerprint captures an artifact's content identity. Size and ModTimeNS
// act as a cheap first filter; SHA256 is the authoritative check.
type Fingerprint struct {
	Size      int64  `json:"size"`
	ModTimeNS int64  `json:"mod_time_ns"`
	SHA256    string `json:"sha256"`
}

// IsZero reports whether the fingerprint has never been computed.
func (f Fingerprint) IsZero() bool {
	return f.Size == 0 && f.ModTimeNS == 0 && f.SHA256 == ""
}

// Equal compares the authoritative content hash.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.SHA256 == other.SHA256
}

// Compute stats and hashes the file at path.
func Compute(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	sum, err := hashFile(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Size:      info.Size(),
		ModTimeNS: info.ModTime().UnixNano(),
		SHA256:    sum,
	}, nil
}

// Changed reports whether the file at path differs from prev. When size and
// mtime both match the recorded values the content hash is trusted without
// re-reading the file; otherwise the file is re-hashed.
func Changed(path string, prev Fingerprint) (bool, Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, Fingerprint{}, nil
		}
		return false, Fingerprint{}, err
	}
	if !prev.IsZero() && info.Size() == prev.Size && info.ModTime().UnixNano() == prev.ModTimeNS {
		return false, prev, nil
	}
	sum, err := hashFile(path)
	if err != nil {
		return false, Fingerprint{}, err
	}
	current := Fingerprint{Size: info.Size(), ModTimeNS: info.ModTime().UnixNano(), SHA256: sum}
	return current.SHA256 != prev.SHA256, current, nil
}

// Exists reports whether the artifact file is present.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// TempPath returns the staging path a step writes to before promotion. It
// lives in the same directory as the final path so promotion is a single
// atomic rename.
func TempPath(final string) string {
	return final + ".partial"
}

// Promote atomically moves a fully written staging file into place. A
// cancelled or failed step simply never promotes, so a partial artifact is
// never observable at the final path.
func Promote(tmp, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("artifact: promote %s: %w", final, err)
	}
	return nil
}

// Discard removes a staging file, ignoring absence.
func Discard(tmp string) {
	_ = os.Remove(tmp)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
