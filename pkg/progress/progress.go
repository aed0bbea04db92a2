// Package progress defines the event stream a crawl reports page outcomes to.
//
// Every Sink must be safe for concurrent use: fetch workers report from
// their own goroutines and never wait on presentation.
package progress

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Event is one page fetch outcome.
type Event struct {
	// Page is the zero-based page index.
	Page int

	// TotalPages is the number of pages in the crawl.
	TotalPages int

	// Documents is the number of documents the page carried (0 on failure).
	Documents int

	// Err is set when the fetch failed.
	Err error
}

// Failed reports whether the event describes a failed fetch.
func (e Event) Failed() bool {
	return e.Err != nil
}

// CurrentPage returns the one-based page number shown to users.
func (e Event) CurrentPage() int {
	return e.Page + 1
}

// Percent returns CurrentPage/TotalPages as a percentage rounded to two decimals.
func (e Event) Percent() float64 {
	if e.TotalPages <= 0 {
		return 0
	}
	return math.Round(float64(e.CurrentPage())/float64(e.TotalPages)*10000) / 100
}

// Sink receives progress events.
type Sink interface {
	Report(Event)
}

// Func adapts a function to the Sink interface. The function must be safe
// for concurrent use.
type Func func(Event)

// Report calls f(e).
func (f Func) Report(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = Func(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Report(e Event) {
	for _, s := range m {
		s.Report(e)
	}
}

// ConsoleSink writes one human-readable line per event.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink creates a ConsoleSink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

// Report writes the event line.
func (c *ConsoleSink) Report(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Failed() {
		fmt.Fprintf(c.out, "error fetching page %d: %v\n", e.CurrentPage(), e.Err)
		return
	}
	fmt.Fprintf(c.out, "fetched %d/%d pages (%.2f%%)\n", e.CurrentPage(), e.TotalPages, e.Percent())
}

// LogSink writes events to a zerolog logger. Successful pages are logged at
// debug level, failures at warn.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Report logs the event.
func (l *LogSink) Report(e Event) {
	if e.Failed() {
		l.logger.Warn().
			Err(e.Err).
			Int("page", e.Page).
			Int("total_pages", e.TotalPages).
			Msg("Page fetch failed")
		return
	}
	l.logger.Debug().
		Int("page", e.Page).
		Int("total_pages", e.TotalPages).
		Int("documents", e.Documents).
		Msg("Page fetched")
}
