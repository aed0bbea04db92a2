package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BatchConfig holds worker pool configuration.
type BatchConfig struct {
	// Concurrency is the maximum number of page fetches in flight.
	Concurrency int
	// Timeout per page fetch (0 = rely on the client's request timeout)
	PageTimeout time.Duration
	// Buffer size of the results channel (default: 2 * Concurrency)
	BufferSize int
}

// DefaultBatchConfig returns the default worker pool configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Concurrency: 2,
	}
}

// BatchFetcher schedules every page of a crawl on a fixed-size worker pool.
type BatchFetcher struct {
	fetcher PageFetcher
	config  BatchConfig
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(fetcher PageFetcher, config BatchConfig) *BatchFetcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.PageTimeout < 0 {
		config.PageTimeout = 0
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 2 * config.Concurrency
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAll schedules pages 0..totalPages-1, each exactly once, and streams
// their results in completion order. The channel is closed once every page
// has settled. A failed page frees its worker immediately.
func (bf *BatchFetcher) FetchAll(ctx context.Context, totalPages int) <-chan PageResult {
	results := make(chan PageResult, bf.config.BufferSize)

	pageQueue := make(chan int, bf.config.Concurrency)
	go func() {
		for page := 0; page < totalPages; page++ {
			pageQueue <- page
		}
		close(pageQueue)
	}()

	workers := bf.config.Concurrency
	if totalPages < workers {
		workers = totalPages
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, totalPages, pageQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// worker processes pages from the queue until it is drained.
func (bf *BatchFetcher) worker(ctx context.Context, totalPages int, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for page := range pageQueue {
		pageCtx, cancel := ctx, context.CancelFunc(func() {})
		if bf.config.PageTimeout > 0 {
			pageCtx, cancel = context.WithTimeout(ctx, bf.config.PageTimeout)
		}

		fetchesInFlight.Inc()
		result := bf.fetcher.FetchPage(pageCtx, page, totalPages)
		fetchesInFlight.Dec()
		cancel()

		result.Page = page
		results <- result
		pagesProcessed++
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker completed")
}
