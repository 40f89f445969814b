package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileStore writes counters as indented JSON, replacing the file atomically
type FileStore struct {
	path string
}

// NewFileStore stores counters for session name under dir as
// trading_state_<name>.json
func NewFileStore(dir, name string) *FileStore {
	safe := unsafeName.ReplaceAllString(name, "_")
	if safe == "" {
		safe = "default"
	}
	return &FileStore{path: filepath.Join(dir, fmt.Sprintf("trading_state_%s.json", safe))}
}

// Path returns the state file location
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(ctx context.Context) (DailyCounters, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DailyCounters{}, ErrNotFound
		}
		return DailyCounters{}, fmt.Errorf("read state %s: %w", f.path, err)
	}
	var c DailyCounters
	if err := json.Unmarshal(data, &c); err != nil {
		return DailyCounters{}, fmt.Errorf("decode state %s: %w", f.path, err)
	}
	return c, nil
}

// Save writes to a temp file in the same directory then renames it over the
// target, so readers never see a partial document
func (f *FileStore) Save(ctx context.Context, c DailyCounters) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
