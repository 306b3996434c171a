package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps templates as a flat JSON object in a single file.
// Writes go to a temporary file in the same directory which is synced and
// then renamed over the target, so readers never observe a partial document.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by path. The file is created on
// the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the template document.
func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return map[string]string{}, fmt.Errorf("%w: %s: %v", ErrStorageRead, s.path, err)
	}

	templates := map[string]string{}
	if len(data) == 0 {
		return templates, nil
	}
	if err := json.Unmarshal(data, &templates); err != nil {
		return map[string]string{}, fmt.Errorf("%w: %s: %v", ErrStorageRead, s.path, err)
	}

	return templates, nil
}

// Save atomically replaces the template document.
func (s *FileStore) Save(_ context.Context, templates map[string]string) error {
	if templates == nil {
		templates = map[string]string{}
	}

	data, err := json.MarshalIndent(templates, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode templates: %v", ErrStorageWrite, err)
	}

	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, s.path, err)
	}

	return nil
}

// Delete removes name and rewrites the document. An unreadable document is
// treated like an empty one and left untouched.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	templates, err := s.Load(ctx)
	if errors.Is(err, ErrStorageRead) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := templates[name]; !ok {
		return nil
	}

	delete(templates, name)
	return s.Save(ctx, templates)
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Remove the temp file on any failure path; after a successful rename
	// this is a no-op error we ignore.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
