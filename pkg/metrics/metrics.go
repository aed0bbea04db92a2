// Package metrics provides the Prometheus registry and the metrics endpoint
// for the search crawler. All metrics are defined in their respective
// packages (client, pagination, store, progress, ratelimit) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the crawler.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - crawler_api_requests_total{status} (Counter): Requests by HTTP status ("network_error" for transport failures)
//   - crawler_api_request_duration_seconds (Histogram): Request duration
//   - crawler_api_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//   - crawler_api_requests_in_flight (Gauge): Requests currently in flight
//
// Crawl Metrics (pkg/pagination):
//   - crawler_pages_total{result} (Counter): Settled pages by result (success, failed)
//   - crawler_page_fetch_duration_seconds (Histogram): Page fetch duration
//   - crawler_fetches_in_flight (Gauge): Page fetches currently running
//   - crawler_documents_written_total (Counter): Documents written to the artifact
//   - crawler_aggregation_errors_total (Counter): Pages dropped while buffering or folding
//   - crawler_runs_total{state} (Counter): Finished runs by terminal state (done, failed)
//
// Store Metrics (pkg/store):
//   - crawler_store_operations_total{backend, operation, result} (Counter): Page store operations
//   - crawler_store_bytes{backend} (Gauge): Bytes currently buffered
//
// Progress Metrics (pkg/progress):
//   - crawler_progress_events_dropped_total (Counter): Success progress events dropped by a full queue (failures are never dropped)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - crawler_rate_limit_throttles_total (Counter): Requests that had to wait for a token
//   - crawler_rate_limit_wait_seconds (Histogram): Time spent waiting for a token
//
// Example Prometheus Queries:
//
//   # Page Failure Rate
//   sum(rate(crawler_pages_total{result="failed"}[5m])) / sum(rate(crawler_pages_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(crawler_api_request_duration_seconds_bucket[5m]))
//
//   # Buffered Bytes
//   sum(crawler_store_bytes)

// Handler returns the mux served by Server: /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Server exposes Handler on a TCP address for the lifetime of a crawl.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Start listens on addr and serves in the background. The bind happens
// before Start returns so a busy port is reported to the caller.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		server: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	logger.Info().Str("address", ln.Addr().String()).Msg("Metrics server started")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
