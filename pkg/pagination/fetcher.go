package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/search-crawler/pkg/client"
	"github.com/Sternrassler/search-crawler/pkg/progress"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PageFetcher fetches a single page. Implementations must be safe for
// concurrent use and must not retry.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, totalPages int) PageResult
}

// PageResult represents the result of fetching a single page.
type PageResult struct {
	Page int
	Docs []json.RawMessage
	Err  error
}

// Failed reports whether the page could not be fetched.
func (r PageResult) Failed() bool {
	return r.Err != nil
}

type pageResponse struct {
	Docs json.RawMessage `json:"docs"`
}

var jsonNull = []byte("null")

// HTTPPageFetcher fetches pages from the search API and reports one
// progress event per attempt.
type HTTPPageFetcher struct {
	api      APIClient
	endpoint Endpoint
	sink     progress.Sink
	logger   zerolog.Logger
}

// NewHTTPPageFetcher creates a fetcher. A nil sink discards events.
func NewHTTPPageFetcher(api APIClient, ep Endpoint, sink progress.Sink) *HTTPPageFetcher {
	if sink == nil {
		sink = progress.Discard
	}
	return &HTTPPageFetcher{
		api:      api,
		endpoint: ep,
		sink:     sink,
		logger:   log.With().Str("component", "page-fetcher").Logger(),
	}
}

// FetchPage issues one GET for page. A missing or null docs field is an
// empty page; anything that is not a JSON array is a failure.
func (f *HTTPPageFetcher) FetchPage(ctx context.Context, page, totalPages int) PageResult {
	start := time.Now()
	result := f.fetch(ctx, page)
	pageFetchDuration.Observe(time.Since(start).Seconds())

	if result.Failed() {
		pagesTotal.WithLabelValues("failed").Inc()
		f.logger.Debug().
			Err(result.Err).
			Int("page", page).
			Str("error_class", string(client.ClassOf(result.Err))).
			Dur("duration", time.Since(start)).
			Msg("Page fetch failed")
		f.sink.Report(progress.Event{Page: page, TotalPages: totalPages, Err: result.Err})
		return result
	}

	pagesTotal.WithLabelValues("success").Inc()
	f.logger.Debug().
		Int("page", page).
		Int("documents", len(result.Docs)).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")
	f.sink.Report(progress.Event{Page: page, TotalPages: totalPages, Documents: len(result.Docs)})
	return result
}

func (f *HTTPPageFetcher) fetch(ctx context.Context, page int) PageResult {
	var resp pageResponse
	if err := f.api.GetJSON(ctx, f.endpoint.PageURL(page), &resp); err != nil {
		return PageResult{Page: page, Err: &PageFetchError{Page: page, Err: err}}
	}

	if len(resp.Docs) == 0 || bytes.Equal(resp.Docs, jsonNull) {
		return PageResult{Page: page, Docs: []json.RawMessage{}}
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(resp.Docs, &docs); err != nil {
		return PageResult{Page: page, Err: &PageFetchError{Page: page, Err: fmt.Errorf("docs is not an array: %w", err)}}
	}

	return PageResult{Page: page, Docs: docs}
}
