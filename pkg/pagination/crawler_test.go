package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/search-crawler/internal/testutil"
	"github.com/Sternrassler/search-crawler/pkg/client"
	"github.com/Sternrassler/search-crawler/pkg/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCrawlClient(t *testing.T) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("search-crawler-test/1.0")
	cfg.RequestTimeout = 5 * time.Second
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func crawlConfig(t *testing.T, baseURL string, pageSize int) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.PageSize = pageSize
	cfg.Output = filepath.Join(t.TempDir(), "localcache.saver")
	return cfg
}

func readArtifact(t *testing.T, path string) []json.RawMessage {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return decodeArtifact(t, data)
}

func mockPages(total, pageSize, totalPages int) [][]json.RawMessage {
	pages := make([][]json.RawMessage, totalPages)
	for p := range pages {
		pages[p] = testutil.PageDocs(total, p, pageSize)
	}
	return pages
}

func TestCrawler_FullCrawl(t *testing.T) {
	api := testutil.NewMockAPI(250)
	defer api.Close()

	cfg := crawlConfig(t, api.URL(), 100)
	rec := &eventRecorder{}
	c, err := New(newCrawlClient(t), cfg, WithProgress(rec))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total != 250 || summary.TotalPages != 3 {
		t.Errorf("Total/TotalPages = %d/%d, want 250/3", summary.Total, summary.TotalPages)
	}
	if summary.Documents != 250 || summary.FetchedPages != 3 || summary.Partial() {
		t.Errorf("summary = %+v", summary)
	}
	if c.State() != StateDone {
		t.Errorf("State() = %s, want done", c.State())
	}

	docs := readArtifact(t, cfg.Output)
	if got, want := asStrings(docs), concat(mockPages(250, 100, 3)...); !equalStrings(got, want) {
		t.Errorf("artifact has %d docs out of order or incomplete, want %d", len(got), len(want))
	}

	// page 0 is requested by the probe and again as a fetch task
	if api.Requests(0) != 2 || api.Requests(1) != 1 || api.Requests(2) != 1 {
		t.Errorf("requests = %d/%d/%d, want 2/1/1", api.Requests(0), api.Requests(1), api.Requests(2))
	}
	if api.Requests(3) != 0 {
		t.Errorf("page beyond the last was requested")
	}
	for _, size := range api.PageSizes() {
		if size != 100 {
			t.Errorf("pageSize = %d, want 100", size)
		}
	}

	if events := rec.Events(); len(events) != 3 {
		t.Errorf("Expected one progress event per page, got %d", len(events))
	}

	info, err := os.Stat(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("artifact mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestCrawler_PageFailureIsPartial(t *testing.T) {
	api := testutil.NewMockAPI(250)
	defer api.Close()
	api.SetPageResponse(1, testutil.NewServerErrorResponse())

	cfg := crawlConfig(t, api.URL(), 100)
	rec := &eventRecorder{}
	c, err := New(newCrawlClient(t), cfg, WithProgress(rec))
	if err != nil {
		t.Fatal(err)
	}

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !summary.Partial() || len(summary.FailedPages) != 1 || summary.FailedPages[0] != 1 {
		t.Errorf("FailedPages = %v, want [1]", summary.FailedPages)
	}
	if summary.Documents != 150 {
		t.Errorf("Documents = %d, want 150", summary.Documents)
	}

	pages := mockPages(250, 100, 3)
	if got, want := asStrings(readArtifact(t, cfg.Output)), concat(pages[0], pages[2]); !equalStrings(got, want) {
		t.Errorf("artifact should hold pages 0 and 2 only")
	}

	var failures []int
	for _, e := range rec.Events() {
		if e.Failed() {
			failures = append(failures, e.Page)
			if client.ClassOf(e.Err) != client.ErrorClassServer {
				t.Errorf("failure class = %q, want server", client.ClassOf(e.Err))
			}
		}
	}
	if len(failures) != 1 || failures[0] != 1 {
		t.Errorf("failure events = %v, want [1]", failures)
	}
	if api.Requests(1) != 1 {
		t.Errorf("failed page requested %d times, want 1 (no retry)", api.Requests(1))
	}
}

func TestCrawler_MalformedPageIsPartial(t *testing.T) {
	api := testutil.NewMockAPI(30)
	defer api.Close()
	api.SetPageResponse(2, testutil.NewMalformedResponse())

	cfg := crawlConfig(t, api.URL(), 10)
	c, err := New(newCrawlClient(t), cfg)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.FailedPages) != 1 || summary.FailedPages[0] != 2 {
		t.Errorf("FailedPages = %v, want [2]", summary.FailedPages)
	}
	if summary.Documents != 20 {
		t.Errorf("Documents = %d, want 20", summary.Documents)
	}
}

func TestCrawler_ProbeFailure(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockPageResponse
	}{
		{"server error", testutil.NewServerErrorResponse()},
		{"malformed body", testutil.NewMalformedResponse()},
		{"missing total", testutil.MockPageResponse{StatusCode: 200, Body: `{"docs":[]}`}},
		{"total too large", testutil.NewDocsResponse(math.MaxInt, `[]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testutil.NewMockAPI(250)
			defer api.Close()
			api.SetPageResponse(0, tt.resp)

			cfg := crawlConfig(t, api.URL(), 100)
			rec := &eventRecorder{}
			c, err := New(newCrawlClient(t), cfg, WithProgress(rec))
			if err != nil {
				t.Fatal(err)
			}

			summary, err := c.Run(context.Background())
			if summary != nil {
				t.Errorf("Expected nil summary, got %+v", summary)
			}

			var probeErr *ProbeError
			if !errors.As(err, &probeErr) {
				t.Fatalf("Expected *ProbeError, got %v", err)
			}
			if c.State() != StateFailed {
				t.Errorf("State() = %s, want failed", c.State())
			}

			if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
				t.Errorf("output must not exist after probe failure (stat err: %v)", err)
			}
			entries, _ := os.ReadDir(filepath.Dir(cfg.Output))
			if len(entries) != 0 {
				t.Errorf("output dir should be empty, has %d entries", len(entries))
			}

			if api.TotalRequests() != 1 {
				t.Errorf("Expected only the probe request, got %d", api.TotalRequests())
			}
			if len(rec.Events()) != 0 {
				t.Errorf("Expected no progress events, got %d", len(rec.Events()))
			}
		})
	}
}

func TestCrawler_ExistingOutputSurvivesProbeFailure(t *testing.T) {
	api := testutil.NewMockAPI(10)
	defer api.Close()
	api.SetPageResponse(0, testutil.NewServerErrorResponse())

	cfg := crawlConfig(t, api.URL(), 100)
	if err := os.WriteFile(cfg.Output, []byte(`{"docs":["old"]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, _ := New(newCrawlClient(t), cfg)
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("Expected probe error")
	}

	data, _ := os.ReadFile(cfg.Output)
	if string(data) != `{"docs":["old"]}` {
		t.Errorf("previous artifact was modified: %s", data)
	}
}

func TestCrawler_EmptyResultSet(t *testing.T) {
	api := testutil.NewMockAPI(0)
	defer api.Close()

	cfg := crawlConfig(t, api.URL(), 100)
	c, _ := New(newCrawlClient(t), cfg)

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalPages != 0 || summary.Documents != 0 {
		t.Errorf("summary = %+v", summary)
	}

	data, _ := os.ReadFile(cfg.Output)
	if string(data) != `{"docs":[]}` {
		t.Errorf("artifact = %s, want {\"docs\":[]}", data)
	}
	if api.TotalRequests() != 1 {
		t.Errorf("Expected only the probe request, got %d", api.TotalRequests())
	}
}

func TestCrawler_StateSequence(t *testing.T) {
	api := testutil.NewMockAPI(5)
	defer api.Close()

	var mu sync.Mutex
	var seq []State
	hook := func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		if len(seq) == 0 {
			seq = append(seq, from)
		}
		seq = append(seq, to)
	}

	c, _ := New(newCrawlClient(t), crawlConfig(t, api.URL(), 2), WithStateHook(hook))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []State{StateInit, StateProbingCount, StateFetching, StateAggregating, StateDone}
	if len(seq) != len(want) {
		t.Fatalf("states = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, seq[i], want[i])
		}
	}
}

func TestCrawler_ConcurrencyBound(t *testing.T) {
	const total, pageSize = 120, 10

	for _, limit := range []int{1, 2, 4} {
		api := testutil.NewMockAPI(total)
		for p := 0; p < total/pageSize; p++ {
			api.SetPageDelay(p, 15*time.Millisecond)
		}

		cfg := crawlConfig(t, api.URL(), pageSize)
		cfg.Batch.Concurrency = limit
		c, _ := New(newCrawlClient(t), cfg)

		summary, err := c.Run(context.Background())
		api.Close()
		if err != nil {
			t.Fatalf("limit %d: Run() error = %v", limit, err)
		}
		if summary.Documents != total {
			t.Errorf("limit %d: Documents = %d", limit, summary.Documents)
		}
		if got := api.MaxInFlight(); got > limit {
			t.Errorf("limit %d: observed %d concurrent requests", limit, got)
		}
	}
}

func TestCrawler_SlowPagesKeepOrder(t *testing.T) {
	const total, pageSize = 60, 10
	api := testutil.NewMockAPI(total)
	defer api.Close()
	api.SetPageDelay(0, 80*time.Millisecond)
	api.SetPageDelay(3, 40*time.Millisecond)

	for _, mode := range []Mode{ModeBuffered, ModeStreaming} {
		cfg := crawlConfig(t, api.URL(), pageSize)
		cfg.Mode = mode
		cfg.Batch.Concurrency = 3
		c, _ := New(newCrawlClient(t), cfg)

		if _, err := c.Run(context.Background()); err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
		if got, want := asStrings(readArtifact(t, cfg.Output)), concat(mockPages(total, pageSize, 6)...); !equalStrings(got, want) {
			t.Errorf("mode %s: artifact out of order", mode)
		}
	}
}

func TestCrawler_StripsNullFields(t *testing.T) {
	api := testutil.NewMockAPI(2)
	defer api.Close()
	api.SetPageResponse(0, testutil.NewDocsResponse(2, `[{"id":"a","uploader":null},{"id":"b","tags":[null,"x"]}]`))

	cfg := crawlConfig(t, api.URL(), 100)
	c, _ := New(newCrawlClient(t), cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(cfg.Output)
	if want := `{"docs":[{"id":"a"},{"id":"b","tags":[null,"x"]}]}`; string(data) != want {
		t.Errorf("artifact = %s, want %s", data, want)
	}
}

func TestCrawler_DiskStore(t *testing.T) {
	api := testutil.NewMockAPI(45)
	defer api.Close()

	spill := t.TempDir()
	cfg := crawlConfig(t, api.URL(), 10)
	cfg.Mode = ModeStreaming
	cfg.Store = store.Config{Backend: store.BackendDisk, Dir: spill}
	c, _ := New(newCrawlClient(t), cfg)

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Documents != 45 {
		t.Errorf("Documents = %d, want 45", summary.Documents)
	}

	entries, _ := os.ReadDir(spill)
	if len(entries) != 0 {
		t.Errorf("spill dir should be removed after the run, found %d entries", len(entries))
	}
}

func TestCrawler_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	api := testutil.NewMockAPI(35)
	defer api.Close()
	api.SetPageResponse(2, testutil.NewServerErrorResponse())

	cfg := crawlConfig(t, api.URL(), 10)
	cfg.Store = store.Config{Backend: store.BackendRedis, Redis: rdb}
	c, _ := New(newCrawlClient(t), cfg, WithRunID("run-redis"))

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.RunID != "run-redis" {
		t.Errorf("RunID = %q", summary.RunID)
	}
	if summary.Documents != 25 {
		t.Errorf("Documents = %d, want 25", summary.Documents)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("redis still holds %v", keys)
	}
}

func TestCrawler_SummaryFile(t *testing.T) {
	api := testutil.NewMockAPI(25)
	defer api.Close()
	api.SetPageResponse(1, testutil.NewServerErrorResponse())

	cfg := crawlConfig(t, api.URL(), 10)
	cfg.SummaryPath = filepath.Join(t.TempDir(), "summary.json")
	c, _ := New(newCrawlClient(t), cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(cfg.SummaryPath)
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if s.RunID != c.RunID() || s.TotalPages != 3 || len(s.FailedPages) != 1 || s.FailedPages[0] != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCrawler_RunOnce(t *testing.T) {
	api := testutil.NewMockAPI(1)
	defer api.Close()

	c, _ := New(newCrawlClient(t), crawlConfig(t, api.URL(), 10))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}

func TestCrawler_ScriptedFetcher(t *testing.T) {
	api := newFakeAPI()
	ep, _ := NewEndpoint("https://api.example.com/search/text/", 2)
	api.bodies[ep.PageURL(0)] = `{"info":{"total":8}}`

	f := newScriptedFetcher()
	for p := 0; p < 4; p++ {
		f.docs[p] = pageDocs(p, 2)
	}
	f.fail[2] = true
	f.delays[0] = 30 * time.Millisecond

	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.example.com/search/text/"
	cfg.PageSize = 2
	cfg.Output = filepath.Join(t.TempDir(), "out.json")

	c, err := New(api, cfg, WithPageFetcher(f))
	if err != nil {
		t.Fatal(err)
	}
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if got, want := asStrings(readArtifact(t, cfg.Output)), concat(pageDocs(0, 2), pageDocs(1, 2), pageDocs(3, 2)); !equalStrings(got, want) {
		t.Errorf("docs = %v, want %v", got, want)
	}
	for p := 0; p < 4; p++ {
		if f.Attempts(p) != 1 {
			t.Errorf("page %d attempted %d times", p, f.Attempts(p))
		}
	}
	if len(summary.FailedPages) != 1 || summary.FailedPages[0] != 2 {
		t.Errorf("FailedPages = %v", summary.FailedPages)
	}
	if len(api.Calls()) != 1 {
		t.Errorf("Expected only the probe to hit the api, got %v", api.Calls())
	}
}

func TestNew_Validation(t *testing.T) {
	api := newFakeAPI()

	cfg := DefaultConfig()
	cfg.Output = ""
	if _, err := New(api, cfg); err == nil {
		t.Error("Expected error for empty output")
	}

	cfg = DefaultConfig()
	cfg.PageSize = 0
	if _, err := New(api, cfg); err == nil {
		t.Error("Expected error for zero page size")
	}

	cfg = DefaultConfig()
	cfg.Mode = "sorted"
	if _, err := New(api, cfg); err == nil {
		t.Error("Expected error for unknown mode")
	}

	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil api")
	}

	c, err := New(api, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if c.RunID() == "" || c.State() != StateInit {
		t.Errorf("RunID = %q, State = %s", c.RunID(), c.State())
	}
}
