// Package accountstore is the default filesystem implementation of
// pool.AccountStore (spec §1 "an AccountStore (load/save JSON)"): one JSON
// file per account under a directory, mirroring internal/config.Load's own
// read-JSON-then-apply idiom.
package accountstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
)

// FileStore loads/saves one pool.AccountRecord per *.json file in Dir.
type FileStore struct {
	Dir string

	mu sync.Mutex // serializes the read-modify-write sequence spec §5 requires per account
}

// New returns a FileStore rooted at dir, creating it if missing.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("accountstore: create dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// ListAccountPaths enumerates every *.json file directly under Dir.
func (s *FileStore) ListAccountPaths() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("accountstore: read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(s.Dir, e.Name()))
	}
	return paths, nil
}

// ReadAccount parses one account file.
func (s *FileStore) ReadAccount(path string) (*pool.AccountRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accountstore: read %s: %w", path, err)
	}
	var rec pool.AccountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("accountstore: parse %s: %w", path, err)
	}
	rec.Path = path
	return &rec, nil
}

// SaveAccount writes rec back to its source file, taking the per-file lock
// spec §5's "Shared-resource policy" calls for.
func (s *FileStore) SaveAccount(rec *pool.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Path == "" {
		return fmt.Errorf("accountstore: record for %s has no path", rec.AccountID)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("accountstore: marshal %s: %w", rec.AccountID, err)
	}
	tmp := rec.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("accountstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, rec.Path); err != nil {
		return fmt.Errorf("accountstore: rename %s: %w", tmp, err)
	}
	logging.Debug("[accountstore] saved %s", rec.AccountID)
	return nil
}
