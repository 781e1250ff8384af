package artifact

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the fingerprints recorded by successful step runs. It maps
// artifact path to the fingerprint consumed or produced at that time, so a
// later run can decide staleness without re-running anything.
type Store struct {
	mu       sync.Mutex
	path     string
	recorded map[string]Fingerprint
}

// NewStore loads the fingerprint record from stateDir, starting empty when
// no record exists yet.
func NewStore(stateDir string) (*Store, error) {
	s := &Store{
		path:     filepath.Join(stateDir, "fingerprints.json"),
		recorded: make(map[string]Fingerprint),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.recorded); err != nil {
		return nil, err
	}
	return s, nil
}

// Recorded returns the fingerprint stored for path, if any.
func (s *Store) Recorded(path string) (Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.recorded[path]
	return fp, ok
}

// Record stores the fingerprint for path in memory. Call Save to persist.
func (s *Store) Record(path string, fp Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded[path] = fp
}

// Invalidate drops the recorded fingerprints for the given paths, forcing
// the next staleness check to treat them as never seen.
func (s *Store) Invalidate(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.recorded, p)
	}
}

// Save writes the record to disk through a temp file and rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.recorded, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
