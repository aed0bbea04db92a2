package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates no documents are stored for the page.
	ErrNotFound = errors.New("page not found in store")

	// ErrCorrupt indicates the stored page could not be decoded.
	ErrCorrupt = errors.New("corrupt page entry")
)

// PageStore buffers the documents of each page under its index.
// Implementations are safe for concurrent use.
type PageStore interface {
	// Put stores the documents of page, replacing any previous entry.
	Put(ctx context.Context, page int, docs []json.RawMessage) error

	// Get returns the documents of page, ErrNotFound or ErrCorrupt.
	Get(ctx context.Context, page int) ([]json.RawMessage, error)

	// Delete removes page. Deleting a missing page is not an error.
	Delete(ctx context.Context, page int) error

	// Close releases every remaining entry and backend resource.
	Close() error
}

// Backend names a PageStore implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendDisk   Backend = "disk"
	BackendRedis  Backend = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend Backend

	// RunID namespaces entries of one crawl (disk directory, redis keys).
	RunID string

	// Dir is the parent directory for disk spill files (default: os.TempDir()).
	Dir string

	// Redis is the client for the redis backend. The store does not close it.
	Redis *redis.Client

	// TTL bounds how long a redis entry may outlive its run (default: 1h).
	TTL time.Duration
}

// New creates the configured PageStore.
func New(cfg Config) (PageStore, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendDisk:
		return NewDiskStore(cfg.Dir, cfg.RunID)
	case BackendRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis client is required for the redis backend")
		}
		if cfg.RunID == "" {
			return nil, fmt.Errorf("run id is required for the redis backend")
		}
		return NewRedisStore(cfg.Redis, cfg.RunID, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// encodePage serializes a page's documents as one JSON array.
func encodePage(docs []json.RawMessage) ([]byte, error) {
	if docs == nil {
		docs = []json.RawMessage{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	return data, nil
}

// decodePage parses a JSON array written by encodePage.
func decodePage(data []byte) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if docs == nil {
		// a stored "null" is not something encodePage produces
		return nil, fmt.Errorf("%w: not an array", ErrCorrupt)
	}
	return docs, nil
}
