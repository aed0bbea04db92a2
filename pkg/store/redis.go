package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL bounds how long an abandoned page survives in redis.
const DefaultRedisTTL = time.Hour

// RedisStore keeps one key per page in redis.
type RedisStore struct {
	redis *redis.Client
	runID string
	ttl   time.Duration

	mu    sync.Mutex
	sizes map[int]int64
}

// NewRedisStore creates a store namespaced by runID.
func NewRedisStore(client *redis.Client, runID string, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		redis: client,
		runID: runID,
		ttl:   ttl,
		sizes: make(map[int]int64),
	}
}

func (r *RedisStore) key(page int) string {
	return PageKey{RunID: r.runID, Page: page}.String()
}

// Put stores the page with the store TTL.
func (r *RedisStore) Put(ctx context.Context, page int, docs []json.RawMessage) (err error) {
	defer func() { observe(BackendRedis, "put", err) }()

	data, err := encodePage(docs)
	if err != nil {
		return err
	}

	if err := r.redis.Set(ctx, r.key(page), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	r.mu.Lock()
	StoreBytes.WithLabelValues(string(BackendRedis)).Add(float64(int64(len(data)) - r.sizes[page]))
	r.sizes[page] = int64(len(data))
	r.mu.Unlock()

	return nil
}

// Get loads and decodes the page.
func (r *RedisStore) Get(ctx context.Context, page int) (docs []json.RawMessage, err error) {
	defer func() { observe(BackendRedis, "get", err) }()

	data, err := r.redis.Get(ctx, r.key(page)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return decodePage(data)
}

// Delete removes the page key.
func (r *RedisStore) Delete(ctx context.Context, page int) (err error) {
	defer func() { observe(BackendRedis, "delete", err) }()

	if err := r.redis.Del(ctx, r.key(page)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	r.mu.Lock()
	StoreBytes.WithLabelValues(string(BackendRedis)).Sub(float64(r.sizes[page]))
	delete(r.sizes, page)
	r.mu.Unlock()

	return nil
}

// Close deletes every key this store wrote that is still present.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.sizes))
	for page, size := range r.sizes {
		keys = append(keys, r.key(page))
		StoreBytes.WithLabelValues(string(BackendRedis)).Sub(float64(size))
		delete(r.sizes, page)
	}
	r.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	if err := r.redis.Del(context.Background(), keys...).Err(); err != nil {
		return fmt.Errorf("redis del on close: %w", err)
	}
	return nil
}
