// Package store persists the program index, work queue, IDL cache, and
// generated documentation under a single data directory.
//
// Every JSON file is written to a temp file and renamed into place, so a
// reader observes either the old or the new content, never a truncation.
// Mutating operations have *Safe variants that serialize through a
// per-path mutex; the plain variants are for single-writer contexts such
// as tests and startup recovery. Reads never lock.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/soldocs/soldocs/internal/filemutex"
	"github.com/soldocs/soldocs/internal/types"
)

// ErrNotFound is returned by update operations targeting a missing record.
var ErrNotFound = errors.New("not found")

// Store owns every on-disk artifact in the data directory. All other
// components hold a shared reference and mutate only through its
// operations.
type Store struct {
	dir string
	fm  *filemutex.Mutex
	log *slog.Logger
}

// Open creates the data directory layout if absent and returns a Store.
func Open(dir string, log *slog.Logger) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, "docs"), filepath.Join(dir, "idls")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return &Store{dir: dir, fm: filemutex.New(), log: log}, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) programsPath() string { return filepath.Join(s.dir, "programs.json") }
func (s *Store) queuePath() string    { return filepath.Join(s.dir, "queue.json") }
func (s *Store) docPath(id string) string {
	return filepath.Join(s.dir, "docs", id+".json")
}
func (s *Store) idlPath(id string) string {
	return filepath.Join(s.dir, "idls", id+".json")
}

// readList loads a JSON array file. A missing file yields the empty
// slice. An unparseable file is moved aside to <path>.corrupt.<epoch> and
// the empty slice returned, so one bad write never wedges the process.
func readList[T any](s *Store, path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.quarantine(path, err)
		return nil, nil
	}
	return items, nil
}

// readRecord loads a single-record JSON file, nil when absent, nil with
// quarantine when corrupt.
func readRecord[T any](s *Store, path string) (*T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		s.quarantine(path, err)
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) quarantine(path string, parseErr error) {
	corrupt := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	if err := os.Rename(path, corrupt); err != nil {
		s.log.Error("failed to quarantine corrupt store file", "path", path, "error", err)
		return
	}
	s.log.Warn("quarantined corrupt store file", "path", path, "moved_to", corrupt, "parse_error", parseErr)
}

// writeJSON marshals v and writes it atomically (temp file + rename).
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Stats folds the program index into documented/failed/total counts.
func (s *Store) Stats() (types.StoreStats, error) {
	programs, err := s.ListPrograms()
	if err != nil {
		return types.StoreStats{}, err
	}
	stats := types.StoreStats{Total: len(programs)}
	for _, p := range programs {
		switch p.Status {
		case types.StatusDocumented:
			stats.Documented++
		case types.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
