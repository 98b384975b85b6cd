package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	// doc is the last saved document (deep copy).
	doc *Document

	// saves counts successful Save calls.
	saves int

	mu     sync.RWMutex
	closed bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		doc: NewDocument(),
	}
}

// Load returns a copy of the last saved document.
func (m *MemoryBackend) Load(ctx context.Context) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("memory backend is closed")
	}
	return m.doc.Clone(), nil
}

// Save stores a copy of doc.
func (m *MemoryBackend) Save(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}

	cp := doc.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("memory backend is closed")
	}
	m.doc = cp
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
// This is useful for monitoring and testing.
func (m *MemoryBackend) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close releases any resources held by the backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
