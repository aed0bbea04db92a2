package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEvent_Percent(t *testing.T) {
	tests := []struct {
		event    Event
		expected float64
	}{
		{Event{Page: 0, TotalPages: 3}, 33.33},
		{Event{Page: 1, TotalPages: 3}, 66.67},
		{Event{Page: 2, TotalPages: 3}, 100},
		{Event{Page: 0, TotalPages: 0}, 0},
	}

	for _, tt := range tests {
		if got := tt.event.Percent(); got != tt.expected {
			t.Errorf("Percent(%+v) = %v, want %v", tt.event, got, tt.expected)
		}
	}
}

func TestConsoleSink(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := NewConsoleSink(buf)

	sink.Report(Event{Page: 0, TotalPages: 4, Documents: 100})
	sink.Report(Event{Page: 2, TotalPages: 4, Err: errors.New("boom")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "fetched 1/4 pages (25.00%)" {
		t.Errorf("success line = %q", lines[0])
	}
	if lines[1] != "error fetching page 3: boom" {
		t.Errorf("failure line = %q", lines[1])
	}
}

func TestLogSink(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)
	sink := NewLogSink(logger)

	sink.Report(Event{Page: 1, TotalPages: 2, Documents: 7})
	sink.Report(Event{Page: 0, TotalPages: 2, Err: errors.New("timeout")})

	out := buf.String()
	if !strings.Contains(out, `"documents":7`) {
		t.Errorf("Expected success entry, got %q", out)
	}
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "timeout") {
		t.Errorf("Expected warn entry with error, got %q", out)
	}
}

func TestMulti(t *testing.T) {
	var a, b []Event
	sink := Multi(Func(func(e Event) { a = append(a, e) }), Func(func(e Event) { b = append(b, e) }))

	sink.Report(Event{Page: 5})

	if len(a) != 1 || len(b) != 1 || a[0].Page != 5 || b[0].Page != 5 {
		t.Errorf("Multi did not fan out: a=%v b=%v", a, b)
	}
}

func TestAsync_DeliversAll(t *testing.T) {
	var mu sync.Mutex
	var got []int
	async := NewAsync(Func(func(e Event) {
		mu.Lock()
		got = append(got, e.Page)
		mu.Unlock()
	}), 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			async.Report(Event{Page: page, TotalPages: 50})
		}(i)
	}
	wg.Wait()
	async.Close()

	if len(got) != 50 {
		t.Errorf("Expected 50 events, got %d", len(got))
	}
	if async.Dropped() != 0 {
		t.Errorf("Expected no drops, got %d", async.Dropped())
	}
}

func TestAsync_NeverBlocks(t *testing.T) {
	release := make(chan struct{})
	async := NewAsync(Func(func(Event) { <-release }), 1)

	// first event is taken by the consumer and blocks there,
	// the second fills the queue, the rest must be dropped
	for i := 0; i < 10; i++ {
		async.Report(Event{Page: i})
	}

	if async.Dropped() == 0 {
		t.Error("Expected dropped events with a blocked consumer")
	}

	close(release)
	async.Close()

	// reports after close are dropped, not panics
	before := async.Dropped()
	async.Report(Event{Page: 99})
	if async.Dropped() != before+1 {
		t.Error("Expected report after close to be dropped")
	}
}

func TestAsync_FailuresAlwaysDelivered(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var failures []int
	async := NewAsync(Func(func(e Event) {
		<-release
		if e.Failed() {
			mu.Lock()
			failures = append(failures, e.Page)
			mu.Unlock()
		}
	}), 1)

	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for i := 0; i < 10; i++ {
			async.Report(Event{Page: i, TotalPages: 20})
			async.Report(Event{Page: 10 + i, TotalPages: 20, Err: errors.New("server error")})
		}
	}()

	select {
	case <-reported:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a slow sink")
	}

	if async.Dropped() == 0 {
		t.Error("Expected success events to be dropped with a blocked consumer")
	}

	close(release)
	async.Close()

	if len(failures) != 10 {
		t.Errorf("Expected all 10 failure events, got %d (%v)", len(failures), failures)
	}

	// a failure after close still reaches the sink
	async.Report(Event{Page: 99, Err: errors.New("late")})
	if len(failures) != 11 || failures[10] != 99 {
		t.Errorf("Expected failure reported after close to be delivered, got %v", failures)
	}
}
