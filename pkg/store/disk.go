package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DiskStore spills each page to its own file in a private directory.
type DiskStore struct {
	dir   string
	runID string

	mu     sync.Mutex
	sizes  map[int]int64
	closed bool
}

// NewDiskStore creates a spill directory under parent (os.TempDir() if empty).
func NewDiskStore(parent, runID string) (*DiskStore, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create spill parent: %w", err)
	}

	pattern := "crawl-*"
	if runID != "" {
		pattern = "crawl-" + runID + "-*"
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}

	return &DiskStore{
		dir:   dir,
		runID: runID,
		sizes: make(map[int]int64),
	}, nil
}

// Dir returns the spill directory.
func (d *DiskStore) Dir() string {
	return d.dir
}

func (d *DiskStore) path(page int) string {
	return filepath.Join(d.dir, PageKey{RunID: d.runID, Page: page}.FileName())
}

// Put writes the page file. The file appears atomically.
func (d *DiskStore) Put(_ context.Context, page int, docs []json.RawMessage) (err error) {
	defer func() { observe(BackendDisk, "put", err) }()

	data, err := encodePage(docs)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write spill file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close spill file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path(page)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename spill file: %w", err)
	}

	d.mu.Lock()
	StoreBytes.WithLabelValues(string(BackendDisk)).Add(float64(int64(len(data)) - d.sizes[page]))
	d.sizes[page] = int64(len(data))
	d.mu.Unlock()

	return nil
}

// Get reads and decodes the page file.
func (d *DiskStore) Get(_ context.Context, page int) (docs []json.RawMessage, err error) {
	defer func() { observe(BackendDisk, "get", err) }()

	data, err := os.ReadFile(d.path(page))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read spill file: %w", err)
	}

	return decodePage(data)
}

// Delete removes the page file.
func (d *DiskStore) Delete(_ context.Context, page int) (err error) {
	defer func() { observe(BackendDisk, "delete", err) }()

	if err := os.Remove(d.path(page)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove spill file: %w", err)
	}

	d.mu.Lock()
	StoreBytes.WithLabelValues(string(BackendDisk)).Sub(float64(d.sizes[page]))
	delete(d.sizes, page)
	d.mu.Unlock()

	return nil
}

// Close removes the spill directory and everything left in it.
func (d *DiskStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	for page, size := range d.sizes {
		StoreBytes.WithLabelValues(string(BackendDisk)).Sub(float64(size))
		delete(d.sizes, page)
	}

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("remove spill dir: %w", err)
	}
	return nil
}
