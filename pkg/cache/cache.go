package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
)

const DefaultPath = "./cache.json"

// Snapshot is the last known state of the tracked record.
type Snapshot struct {
	RecordName  string    `json:"record_name"`
	RecordType  string    `json:"record_type"`
	IPAddress   string    `json:"ip_address"`
	LastChecked time.Time `json:"last_checked"`
	LastUpdated time.Time `json:"last_updated"`
}

// New returns a snapshot whose check and update times are both now.
func New(name, recordType, ip string, now time.Time) *Snapshot {
	now = now.UTC()
	return &Snapshot{
		RecordName:  name,
		RecordType:  recordType,
		IPAddress:   ip,
		LastChecked: now,
		LastUpdated: now,
	}
}

// IsExpired reports whether more than hours have passed since the last
// check. A zero or negative expiry means the snapshot is always expired.
func (s *Snapshot) IsExpired(now time.Time, hours float64) bool {
	if hours <= 0 {
		return true
	}
	return now.Sub(s.LastChecked).Hours() > hours
}

func (s *Snapshot) MatchesConfig(name, recordType string) bool {
	return s.RecordName == name && s.RecordType == recordType
}

// Touch records a successful check without a content change.
func (s *Snapshot) Touch(now time.Time) {
	s.LastChecked = now.UTC()
}

// SetIP records a new confirmed address. An update also counts as a check.
func (s *Snapshot) SetIP(ip string, now time.Time) {
	now = now.UTC()
	s.IPAddress = ip
	s.LastUpdated = now
	s.LastChecked = now
}

// IOError wraps a failure to persist the snapshot.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store persists a single snapshot as a JSON file.
type Store struct {
	path string
	log  logr.Logger
}

func NewStore(path string, log logr.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored snapshot, or nil when there is none usable.
// Read and decode failures are logged and otherwise ignored.
func (s *Store) Load() *Snapshot {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("no cache file found, will create one after first run", "path", s.path)
		return nil
	}
	if err != nil {
		s.log.Info("failed to read cache file, will recreate", "path", s.path, "error", err.Error())
		return nil
	}

	snapshot := &Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		s.log.Info("cache file corrupted, will recreate", "path", s.path, "error", err.Error())
		return nil
	}
	if snapshot.RecordName == "" || snapshot.RecordType == "" {
		s.log.Info("cache file is missing record fields, will recreate", "path", s.path)
		return nil
	}
	s.log.V(1).Info("loaded cache", "path", s.path, "ip", snapshot.IPAddress, "lastChecked", snapshot.LastChecked)
	return snapshot
}

// Save overwrites the cache file with snapshot. The data is written to a
// temporary file first so a failed write never leaves a truncated cache.
func (s *Store) Save(snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return &IOError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return &IOError{Path: s.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return &IOError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Path: s.path, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &IOError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &IOError{Path: s.path, Err: err}
	}

	s.log.V(1).Info("cache saved", "path", s.path)
	return nil
}
