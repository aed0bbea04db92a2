package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sternrassler/search-crawler/pkg/progress"
	"github.com/Sternrassler/search-crawler/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// progressLogInterval is how often (in settled pages) progress is logged.
const progressLogInterval = 50

// Config holds crawl configuration.
type Config struct {
	// BaseURL is the search endpoint; pages are requested as <BaseURL>/<page>.
	BaseURL string
	// PageSize is the pageSize query parameter.
	PageSize int
	// Batch configures the worker pool.
	Batch BatchConfig
	// Mode selects buffered or streaming aggregation.
	Mode Mode
	// Store selects the intermediate page store backend.
	Store store.Config
	// Output is the artifact path.
	Output string
	// SummaryPath, if set, receives the run summary as JSON.
	SummaryPath string
}

// DefaultConfig returns the default crawl configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://api.beatsaver.com/search/text/",
		PageSize: 100,
		Batch:    DefaultBatchConfig(),
		Mode:     ModeBuffered,
		Store:    store.Config{Backend: store.BackendMemory},
		Output:   "localcache.saver",
	}
}

// Summary describes a finished crawl.
type Summary struct {
	RunID        string        `json:"run_id"`
	Total        int           `json:"total"`
	TotalPages   int           `json:"total_pages"`
	FetchedPages int           `json:"fetched_pages"`
	FailedPages  []int         `json:"failed_pages"`
	Documents    int           `json:"documents"`
	Output       string        `json:"output"`
	Duration     time.Duration `json:"duration"`
}

// Partial reports whether any page is missing from the artifact.
func (s *Summary) Partial() bool {
	return len(s.FailedPages) > 0
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithProgress sets the sink that receives page events.
func WithProgress(sink progress.Sink) Option {
	return func(c *Crawler) { c.sink = sink }
}

// WithPageFetcher replaces the HTTP page fetcher.
func WithPageFetcher(f PageFetcher) Option {
	return func(c *Crawler) { c.fetcher = f }
}

// WithStore uses st instead of creating one from Config.Store. The crawler
// still closes it when the run ends.
func WithStore(st store.PageStore) Option {
	return func(c *Crawler) { c.store = st }
}

// WithStateHook is called on every state transition.
func WithStateHook(hook func(from, to State)) Option {
	return func(c *Crawler) { c.hook = hook }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(c *Crawler) { c.runID = id }
}

// Crawler drives one crawl: probe, fetch, aggregate, write.
type Crawler struct {
	api      APIClient
	endpoint Endpoint
	config   Config
	fetcher  PageFetcher
	store    store.PageStore
	sink     progress.Sink
	hook     func(from, to State)
	runID    string
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
	ran   bool
}

// New creates a crawler.
func New(api APIClient, cfg Config, opts ...Option) (*Crawler, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if cfg.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	endpoint, err := NewEndpoint(cfg.BaseURL, cfg.PageSize)
	if err != nil {
		return nil, err
	}

	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	c := &Crawler{
		api:      api,
		endpoint: endpoint,
		config:   cfg,
		sink:     progress.Discard,
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	if c.sink == nil {
		c.sink = progress.Discard
	}
	if c.fetcher == nil {
		c.fetcher = NewHTTPPageFetcher(api, endpoint, c.sink)
	}
	c.config.Store.RunID = c.runID
	c.logger = log.With().Str("component", "crawler").Str("run_id", c.runID).Logger()

	return c, nil
}

// RunID returns the crawl run id.
func (c *Crawler) RunID() string {
	return c.runID
}

// State returns the current lifecycle state.
func (c *Crawler) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Crawler) transition(to State) {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		panic(fmt.Sprintf("pagination: illegal state transition %s -> %s", from, to))
	}
	c.state = to
	c.mu.Unlock()

	c.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Crawler state changed")
	if to.Terminal() {
		runsTotal.WithLabelValues(to.String()).Inc()
	}
	if c.hook != nil {
		c.hook(from, to)
	}
}

func (c *Crawler) fail(err error) error {
	c.logger.Error().Err(err).Msg("Crawl failed")
	c.transition(StateFailed)
	return err
}

// Run executes the crawl. It returns a *ProbeError when the page count
// cannot be determined; in that case the output path is left untouched.
// Page failures do not fail the run; they are listed in the summary.
func (c *Crawler) Run(ctx context.Context) (*Summary, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil, fmt.Errorf("crawler already ran")
	}
	c.ran = true
	c.mu.Unlock()

	start := time.Now()

	c.transition(StateProbingCount)
	probe, err := Probe(ctx, c.api, c.endpoint)
	if err != nil {
		return nil, c.fail(err)
	}

	c.logger.Info().
		Str("base_url", c.config.BaseURL).
		Int("total", probe.Total).
		Int("total_pages", probe.TotalPages).
		Int("page_size", c.endpoint.PageSize()).
		Msg("Probed page count")

	st := c.store
	if st == nil {
		st, err = store.New(c.config.Store)
		if err != nil {
			return nil, c.fail(fmt.Errorf("create page store: %w", err))
		}
	}
	defer func() {
		if err := st.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close page store")
		}
	}()

	out, err := newArtifactFile(c.config.Output)
	if err != nil {
		return nil, c.fail(err)
	}
	defer out.discard()

	agg := NewAggregator(st, c.config.Mode, probe.TotalPages, out)

	c.transition(StateFetching)
	c.collect(ctx, agg, probe.TotalPages)

	c.transition(StateAggregating)
	stats, err := agg.Finish(ctx)
	if err != nil {
		return nil, c.fail(err)
	}
	if err := out.commit(); err != nil {
		return nil, c.fail(err)
	}

	summary := &Summary{
		RunID:        c.runID,
		Total:        probe.Total,
		TotalPages:   probe.TotalPages,
		FetchedPages: stats.FoldedPages,
		FailedPages:  stats.FailedPages,
		Documents:    stats.Documents,
		Output:       c.config.Output,
		Duration:     time.Since(start),
	}

	if c.config.SummaryPath != "" {
		if err := writeSummary(c.config.SummaryPath, summary); err != nil {
			// the artifact is already in place; a missing summary is not fatal
			c.logger.Warn().Err(err).Str("path", c.config.SummaryPath).Msg("Failed to write summary")
		}
	}

	c.transition(StateDone)

	logEvent := c.logger.Info()
	if summary.Partial() {
		logEvent = c.logger.Warn().Ints("failed_pages", summary.FailedPages)
	}
	logEvent.
		Int("documents", summary.Documents).
		Int("fetched_pages", summary.FetchedPages).
		Int("total_pages", summary.TotalPages).
		Dur("duration", summary.Duration).
		Str("output", summary.Output).
		Msg("Crawl complete")

	return summary, nil
}

// collect feeds every page result into the aggregator from one goroutine.
func (c *Crawler) collect(ctx context.Context, agg *Aggregator, totalPages int) {
	batch := NewBatchFetcher(c.fetcher, c.config.Batch)

	settled, failed := 0, 0
	for result := range batch.FetchAll(ctx, totalPages) {
		if result.Failed() {
			failed++
		}
		agg.Add(ctx, result)
		settled++

		if settled%progressLogInterval == 0 {
			c.logger.Info().
				Int("settled", settled).
				Int("failed", failed).
				Int("total", totalPages).
				Float64("progress_pct", float64(settled)/float64(totalPages)*100).
				Msg("Fetch progress")
		}
	}
}

// artifactFile is written next to the output path and renamed into place.
type artifactFile struct {
	*os.File
	path      string
	committed bool
}

func newArtifactFile(path string) (*artifactFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &artifactFile{File: f, path: path}, nil
}

func (a *artifactFile) commit() error {
	if err := a.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	if err := a.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(a.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(a.Name(), a.path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	a.committed = true
	return nil
}

// discard removes the temp file unless it was committed.
func (a *artifactFile) discard() {
	if a.committed {
		return
	}
	a.Close()
	os.Remove(a.Name())
}

func writeSummary(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
