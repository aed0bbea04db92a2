package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for crawl runs.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_pages_total",
		Help: "Total page fetch attempts by result",
	}, []string{"result"})

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_page_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds, including JSON decoding",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	fetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_fetches_in_flight",
		Help: "Page fetches currently executing",
	})

	documentsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_documents_written_total",
		Help: "Documents written to output artifacts",
	})

	aggregationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_aggregation_errors_total",
		Help: "Pages dropped because their buffered documents could not be folded",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_runs_total",
		Help: "Crawl runs by terminal state",
	}, []string{"state"})
)
