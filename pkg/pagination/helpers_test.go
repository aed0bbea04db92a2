package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/search-crawler/pkg/client"
)

// fakeAPI serves canned bodies by URL.
type fakeAPI struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{bodies: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeAPI) GetJSON(_ context.Context, url string, v any) error {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	body, ok := f.bodies[url]
	err := f.errs[url]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		return &client.APIError{URL: url, StatusCode: 404, ErrorClass: client.ErrorClassClient, Message: "404 Not Found"}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &client.APIError{URL: url, StatusCode: 200, ErrorClass: client.ErrorClassDecode, Message: "malformed json", Err: err}
	}
	return nil
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// scriptedFetcher returns canned page results after a per-page delay and
// records concurrency.
type scriptedFetcher struct {
	docs   map[int][]json.RawMessage
	fail   map[int]bool
	delays map[int]time.Duration

	mu          sync.Mutex
	attempts    map[int]int
	inFlight    int
	maxInFlight int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		docs:     make(map[int][]json.RawMessage),
		fail:     make(map[int]bool),
		delays:   make(map[int]time.Duration),
		attempts: make(map[int]int),
	}
}

func (s *scriptedFetcher) FetchPage(ctx context.Context, page, totalPages int) PageResult {
	s.mu.Lock()
	s.attempts[page]++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.delays[page]
	docs := s.docs[page]
	fail := s.fail[page]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if fail {
		return PageResult{Page: page, Err: &PageFetchError{Page: page, Err: fmt.Errorf("scripted failure")}}
	}
	return PageResult{Page: page, Docs: docs}
}

func (s *scriptedFetcher) Attempts(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[page]
}

func (s *scriptedFetcher) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// pageDocs builds n documents for page as {"p":page,"i":i}.
func pageDocs(page, n int) []json.RawMessage {
	docs := make([]json.RawMessage, n)
	for i := range docs {
		docs[i] = json.RawMessage(fmt.Sprintf(`{"p":%d,"i":%d}`, page, i))
	}
	return docs
}

type artifact struct {
	Docs []json.RawMessage `json:"docs"`
}

func decodeArtifact(t *testing.T, data []byte) []json.RawMessage {
	t.Helper()

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("artifact is not valid JSON: %v\n%s", err, data)
	}
	if a.Docs == nil {
		t.Fatalf("artifact has no docs array: %s", data)
	}
	return a.Docs
}

// concat joins the documents of pages in order, as compact strings.
func concat(pages ...[]json.RawMessage) []string {
	var out []string
	for _, p := range pages {
		for _, d := range p {
			out = append(out, string(d))
		}
	}
	return out
}

func asStrings(docs []json.RawMessage) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = string(d)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
