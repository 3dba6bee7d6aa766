package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

// DefaultFileName is the file name used when only a directory is configured.
const DefaultFileName = "freebox-auth.json"

// FileStore keeps the app authorization in a JSON file:
//
//	{"app_token": "...", "track_id": 12}
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path. If path is a directory the
// record is kept in DefaultFileName inside it.
func NewFileStore(path string) *FileStore {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}
	return &FileStore{path: path}
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing file is not an error.
func (s *FileStore) Load(_ context.Context) (freeboxos.AuthInfo, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return freeboxos.AuthInfo{}, nil
	}
	if err != nil {
		return freeboxos.AuthInfo{}, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var info freeboxos.AuthInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return freeboxos.AuthInfo{}, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, s.path, err)
	}
	return info, nil
}

// Save replaces the record atomically (write to a temp file, then rename).
func (s *FileStore) Save(_ context.Context, info freeboxos.AuthInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding auth record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".freebox-auth-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("writing auth record: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Clear deletes the record.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", s.path, err)
	}
	return nil
}
