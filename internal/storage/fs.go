// Package storage implements the content-addressed note payload store.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/note"
)

// FS stores immutable payloads as JSON blobs on the local file system,
// sharded by the first two characters of the payload id.
type FS struct {
	root string // absolute path to the objects directory
}

// NewFS creates a payload store rooted at the given directory, creating it
// if necessary.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// objectPath maps a payload id to its sharded location under root.
func (f *FS) objectPath(id string) (string, error) {
	if len(id) < 3 {
		return "", fmt.Errorf("storage: invalid payload id: %q", id)
	}
	return filepath.Join(f.root, id[:2], id[2:]), nil
}

// Put stores a payload and returns its content address. Storing a payload
// that is already present is a no-op and returns the existing id.
func (f *FS) Put(p note.Payload) (string, error) {
	id := p.ID()
	abs, err := f.objectPath(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err == nil {
		return id, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("storage: encode payload: %w", err)
	}
	if err := f.writeAtomic(abs, data); err != nil {
		return "", err
	}
	return id, nil
}

// Get loads a payload by id. Returns apperr.ErrNotFound when absent.
func (f *FS) Get(id string) (note.Payload, error) {
	abs, err := f.objectPath(id)
	if err != nil {
		return note.Payload{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return note.Payload{}, fmt.Errorf("storage: payload %s: %w", id, apperr.ErrNotFound)
		}
		return note.Payload{}, fmt.Errorf("storage: read payload %s: %w", id, err)
	}
	var p note.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return note.Payload{}, fmt.Errorf("storage: decode payload %s: %w", id, err)
	}
	return p, nil
}

// Has reports whether a payload is present without decoding it.
func (f *FS) Has(id string) (bool, error) {
	abs, err := f.objectPath(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat payload %s: %w", id, err)
	}
	return true, nil
}

// writeAtomic writes content via tmp file → fsync → rename so a payload is
// either fully present or absent, never truncated.
func (f *FS) writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ansuz-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
