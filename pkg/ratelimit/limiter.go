// Package ratelimit paces outgoing requests to the search API.
// A nil *Limiter or a non-positive rate disables pacing entirely.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_rate_limit_throttles_total",
		Help: "Total number of requests delayed by the request pacer",
	})

	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for the request pacer",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// throttleLogThreshold is the wait above which a throttled request is logged.
const throttleLogThreshold = 100 * time.Millisecond

// Config holds request pacing configuration.
type Config struct {
	// RequestsPerSecond is the sustained request rate. 0 disables pacing.
	RequestsPerSecond float64

	// Burst is the number of requests allowed at once (default: 1).
	Burst int
}

// Limiter gates requests with a token bucket.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLimiter creates a limiter. It returns nil when pacing is disabled.
func NewLimiter(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.RequestsPerSecond == 0 {
		return nil, nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// Wait blocks until a request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	waited := time.Since(start)
	if waited > time.Millisecond {
		throttledTotal.Inc()
		throttleWaitSeconds.Observe(waited.Seconds())
		if waited > throttleLogThreshold {
			l.logger.Debug().
				Dur("wait_duration", waited).
				Msg("Request throttled by pacer")
		}
	}

	return nil
}

// Limit returns the configured rate, or rate.Inf when l is nil.
func (l *Limiter) Limit() rate.Limit {
	if l == nil {
		return rate.Inf
	}
	return l.limiter.Limit()
}
