package progress

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "crawler_progress_events_dropped_total",
	Help: "Success progress events dropped because the async sink queue was full",
})

// Async decouples producers from a slow sink with a bounded queue drained by
// a single goroutine. Report never blocks. When the queue is full a success
// event is dropped and counted; failure events go to an unbounded list and
// are always delivered.
type Async struct {
	next    Sink
	queue   chan Event
	wake    chan struct{}
	done    chan struct{}
	dropped atomic.Int64

	mu       sync.Mutex
	failures []Event
	closed   bool
}

// NewAsync starts a queue of the given size in front of next.
func NewAsync(next Sink, size int) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		next:  next,
		queue: make(chan Event, size),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for {
		select {
		case e, ok := <-a.queue:
			if !ok {
				a.deliverFailures()
				return
			}
			a.next.Report(e)
		case <-a.wake:
		}
		a.deliverFailures()
	}
}

func (a *Async) deliverFailures() {
	a.mu.Lock()
	pending := a.failures
	a.failures = nil
	a.mu.Unlock()

	for _, e := range pending {
		a.next.Report(e)
	}
}

// Report enqueues e without blocking. After Close, failures are reported
// synchronously and successes are dropped.
func (a *Async) Report(e Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if e.Failed() {
			a.next.Report(e)
		} else {
			a.drop()
		}
		return
	}

	if e.Failed() {
		a.failures = append(a.failures, e)
		a.mu.Unlock()
		select {
		case a.wake <- struct{}{}:
		default:
		}
		return
	}

	select {
	case a.queue <- e:
	default:
		a.drop()
	}
	a.mu.Unlock()
}

func (a *Async) drop() {
	if a.dropped.Add(1) == 1 {
		log.Warn().Str("component", "progress").Msg("Progress queue full, dropping success events")
	}
	droppedEvents.Inc()
}

// Dropped returns the number of success events dropped so far.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until queued events and pending
// failures are delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
