package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend implements Backend as a single JSON document on disk.
//
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so a crash mid-write leaves the previous document intact.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend creates a file backend writing to path.
// The parent directory is created if it does not exist.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileBackend{path: path}, nil
}

// Path returns the document path.
func (f *FileBackend) Path() string {
	return f.path
}

// Load reads the document. A missing file yields an empty document.
func (f *FileBackend) Load(ctx context.Context) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger state %q: %w", f.path, err)
	}
	if len(data) == 0 {
		return NewDocument(), nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ledger state %q: %w", f.path, err)
	}
	return doc.Normalize(), nil
}

// Save atomically replaces the document on disk.
func (f *FileBackend) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger state: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync ledger state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger state: %w", err)
	}
	return nil
}

// Close is a no-op; FileBackend holds no open handles between calls.
func (f *FileBackend) Close() error {
	return nil
}
