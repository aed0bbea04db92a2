package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps pages in a map.
type MemoryStore struct {
	mu    sync.Mutex
	pages map[int][]json.RawMessage
	bytes map[int]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages: make(map[int][]json.RawMessage),
		bytes: make(map[int]int),
	}
}

// Put stores docs for page.
func (m *MemoryStore) Put(_ context.Context, page int, docs []json.RawMessage) error {
	size := 0
	for _, d := range docs {
		size += len(d)
	}

	m.mu.Lock()
	StoreBytes.WithLabelValues(string(BackendMemory)).Add(float64(size - m.bytes[page]))
	m.pages[page] = docs
	m.bytes[page] = size
	m.mu.Unlock()

	observe(BackendMemory, "put", nil)
	return nil
}

// Get returns the docs of page.
func (m *MemoryStore) Get(_ context.Context, page int) ([]json.RawMessage, error) {
	m.mu.Lock()
	docs, ok := m.pages[page]
	m.mu.Unlock()

	if !ok {
		observe(BackendMemory, "get", ErrNotFound)
		return nil, ErrNotFound
	}
	observe(BackendMemory, "get", nil)
	return docs, nil
}

// Delete removes page.
func (m *MemoryStore) Delete(_ context.Context, page int) error {
	m.mu.Lock()
	StoreBytes.WithLabelValues(string(BackendMemory)).Sub(float64(m.bytes[page]))
	delete(m.pages, page)
	delete(m.bytes, page)
	m.mu.Unlock()

	observe(BackendMemory, "delete", nil)
	return nil
}

// Len returns the number of buffered pages.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Close drops all remaining pages.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for page, size := range m.bytes {
		StoreBytes.WithLabelValues(string(BackendMemory)).Sub(float64(size))
		delete(m.bytes, page)
	}
	m.pages = make(map[int][]json.RawMessage)
	return nil
}
