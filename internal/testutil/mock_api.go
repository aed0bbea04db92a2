// Package testutil provides testing utilities for the search crawler.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SearchPath is the path prefix the mock serves pages under.
const SearchPath = "/search/text/"

// MockPageResponse overrides the response for a single page.
type MockPageResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockAPI is a configurable mock search API for testing.
//
// By default page p of a dataset with Total items returns
// {"info":{"total":Total},"docs":[...]} where each doc is
// {"id":"<global index>","page":p} and pages hold PageSize docs.
type MockAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	total     int
	overrides map[int]MockPageResponse
	delays    map[int]time.Duration
	requests  map[int]int
	pageSizes []int

	inFlight    int
	maxInFlight int
}

// NewMockAPI creates a mock API serving total items.
func NewMockAPI(total int) *MockAPI {
	m := &MockAPI{
		total:     total,
		overrides: make(map[int]MockPageResponse),
		delays:    make(map[int]time.Duration),
		requests:  make(map[int]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base search URL (with trailing slash).
func (m *MockAPI) URL() string {
	return m.server.URL + SearchPath
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetPageResponse overrides the response for one page.
func (m *MockAPI) SetPageResponse(page int, resp MockPageResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[page] = resp
}

// SetPageDelay delays the default response for one page.
func (m *MockAPI) SetPageDelay(page int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[page] = delay
}

// Requests returns how many times page was requested.
func (m *MockAPI) Requests(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[page]
}

// TotalRequests returns the number of page requests served.
func (m *MockAPI) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.requests {
		n += c
	}
	return n
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockAPI) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// PageSizes returns the pageSize query values received, in arrival order.
func (m *MockAPI) PageSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pageSizes...)
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, SearchPath) {
		http.NotFound(w, r)
		return
	}

	page, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, SearchPath))
	if err != nil || page < 0 {
		http.Error(w, `{"error":"bad page"}`, http.StatusBadRequest)
		return
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize <= 0 {
		http.Error(w, `{"error":"bad pageSize"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests[page]++
	m.pageSizes = append(m.pageSizes, pageSize)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	override, hasOverride := m.overrides[page]
	delay := m.delays[page]
	total := m.total
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if hasOverride {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		status := override.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(override.Body))
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	w.WriteHeader(http.StatusOK)
	w.Write(PageBody(total, page, pageSize))
}

// PageBody renders the default body for page of a dataset with total items.
func PageBody(total, page, pageSize int) []byte {
	docs := PageDocs(total, page, pageSize)
	body, _ := json.Marshal(map[string]any{
		"info": map[string]int{"total": total},
		"docs": docs,
	})
	return body
}

// PageDocs returns the default documents for page, as compact JSON values.
func PageDocs(total, page, pageSize int) []json.RawMessage {
	docs := []json.RawMessage{}
	for i := page * pageSize; i < (page+1)*pageSize && i < total; i++ {
		docs = append(docs, json.RawMessage(fmt.Sprintf(`{"id":"%d","page":%d}`, i, page)))
	}
	return docs
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockPageResponse {
	return MockPageResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewMalformedResponse creates a 200 response whose body is not valid JSON.
func NewMalformedResponse() MockPageResponse {
	return MockPageResponse{
		StatusCode: http.StatusOK,
		Body:       `{"docs": [`,
	}
}

// NewDocsResponse creates a 200 response with the given raw docs array.
func NewDocsResponse(total int, docsJSON string) MockPageResponse {
	return MockPageResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"info":{"total":%d},"docs":%s}`, total, docsJSON),
	}
}
