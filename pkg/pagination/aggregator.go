package pagination

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Sternrassler/search-crawler/pkg/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mode selects when buffered pages are folded into the artifact.
type Mode string

const (
	// ModeBuffered folds every page after all pages have settled.
	ModeBuffered Mode = "buffered"

	// ModeStreaming folds the settled prefix 0..k as soon as it is complete,
	// so at most the out-of-order window stays buffered.
	ModeStreaming Mode = "streaming"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBuffered, ModeStreaming:
		return Mode(s), nil
	case "":
		return ModeBuffered, nil
	default:
		return "", fmt.Errorf("unknown aggregate mode %q", s)
	}
}

type pageState uint8

const (
	pagePending pageState = iota
	pageStored
	pageFailed
	pageFolded
)

// AggregateStats describes what the aggregator wrote.
type AggregateStats struct {
	Documents    int
	FoldedPages  int
	FailedPages  []int
	PageFailures map[int]error
}

// Aggregator restores page order over out-of-order page results and writes
// {"docs":[...]} to an io.Writer. Add and Finish are safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	store  store.PageStore
	mode   Mode
	states []pageState
	errs   map[int]error
	next   int

	out      *bufio.Writer
	started  bool
	docs     int
	folded   int
	writeErr error

	logger zerolog.Logger
}

// NewAggregator creates an aggregator for totalPages pages. Pages are
// buffered in st until folded; st is not closed by the aggregator.
func NewAggregator(st store.PageStore, mode Mode, totalPages int, out io.Writer) *Aggregator {
	if mode == "" {
		mode = ModeBuffered
	}
	if totalPages < 0 {
		totalPages = 0
	}
	return &Aggregator{
		store:  st,
		mode:   mode,
		states: make([]pageState, totalPages),
		errs:   make(map[int]error),
		out:    bufio.NewWriterSize(out, 64<<10),
		logger: log.With().Str("component", "aggregator").Logger(),
	}
}

// Add records one settled page. Results for out-of-range or already settled
// pages are ignored.
func (a *Aggregator) Add(ctx context.Context, r PageResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.Page < 0 || r.Page >= len(a.states) || a.states[r.Page] != pagePending {
		a.logger.Warn().Int("page", r.Page).Msg("Ignoring unexpected page result")
		return
	}

	if r.Failed() {
		a.fail(r.Page, r.Err)
	} else if err := a.store.Put(ctx, r.Page, r.Docs); err != nil {
		a.fail(r.Page, &AggregationError{Page: r.Page, Err: fmt.Errorf("buffer page: %w", err)})
		aggregationErrors.Inc()
		// a failed put may still have left something behind
		a.release(ctx, r.Page)
	} else {
		a.states[r.Page] = pageStored
	}

	if a.mode == ModeStreaming {
		a.flushPrefix(ctx)
	}
}

// Finish folds every remaining page in order, closes the JSON document and
// flushes the writer. The returned error is an output write failure; page
// level problems are reported in the stats.
func (a *Aggregator) Finish(ctx context.Context) (AggregateStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for page := a.next; page < len(a.states); page++ {
		if a.states[page] == pagePending {
			a.fail(page, &AggregationError{Page: page, Err: fmt.Errorf("page never settled")})
		}
	}
	a.next = len(a.states)
	for page := range a.states {
		a.fold(ctx, page)
	}

	a.begin()
	a.write([]byte("]}"))
	if a.writeErr == nil {
		if err := a.out.Flush(); err != nil {
			a.writeErr = fmt.Errorf("flush output: %w", err)
		}
	}

	return a.stats(), a.writeErr
}

// flushPrefix folds pages while the lowest unfolded page has settled.
func (a *Aggregator) flushPrefix(ctx context.Context) {
	for a.next < len(a.states) && a.states[a.next] != pagePending {
		a.fold(ctx, a.next)
		a.next++
	}
}

// fold appends one stored page to the output and releases it.
func (a *Aggregator) fold(ctx context.Context, page int) {
	if a.states[page] != pageStored {
		return
	}

	docs, err := a.load(ctx, page)
	a.release(ctx, page)
	if err != nil {
		aggregationErrors.Inc()
		a.fail(page, &AggregationError{Page: page, Err: err})
		return
	}

	a.begin()
	for _, doc := range docs {
		if a.docs > 0 {
			a.write([]byte{','})
		}
		a.write(doc)
		a.docs++
	}
	documentsWritten.Add(float64(len(docs)))

	a.states[page] = pageFolded
	a.folded++
}

// load reads a page and normalizes every document. Any bad document drops
// the whole page so no partial page reaches the output.
func (a *Aggregator) load(ctx context.Context, page int) ([]json.RawMessage, error) {
	docs, err := a.store.Get(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("read buffered page: %w", err)
	}

	out := make([]json.RawMessage, 0, len(docs))
	for i, doc := range docs {
		clean, err := StripNulls(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, clean)
	}
	return out, nil
}

func (a *Aggregator) release(ctx context.Context, page int) {
	if err := a.store.Delete(ctx, page); err != nil {
		a.logger.Warn().Err(err).Int("page", page).Msg("Failed to release buffered page")
	}
}

func (a *Aggregator) fail(page int, err error) {
	a.states[page] = pageFailed
	a.errs[page] = err

	var aggErr *AggregationError
	if errors.As(err, &aggErr) {
		a.logger.Warn().Err(err).Int("page", page).Msg("Dropping page from artifact")
	}
}

func (a *Aggregator) begin() {
	if !a.started {
		a.started = true
		a.write([]byte(`{"docs":[`))
	}
}

func (a *Aggregator) write(p []byte) {
	if a.writeErr != nil {
		return
	}
	if _, err := a.out.Write(p); err != nil {
		a.writeErr = fmt.Errorf("write output: %w", err)
	}
}

func (a *Aggregator) stats() AggregateStats {
	failed := make([]int, 0, len(a.errs))
	errs := make(map[int]error, len(a.errs))
	for page, err := range a.errs {
		failed = append(failed, page)
		errs[page] = err
	}
	sort.Ints(failed)

	return AggregateStats{
		Documents:    a.docs,
		FoldedPages:  a.folded,
		FailedPages:  failed,
		PageFailures: errs,
	}
}
