// Package client provides the HTTP client used to talk to the search API,
// with connection pooling, request pacing and error classification.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/search-crawler/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_api_requests_total",
		Help: "Total search API requests by status",
	}, []string{"status"})

	apiRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_api_request_duration_seconds",
		Help:    "Search API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_api_errors_total",
		Help: "Total search API errors by class",
	}, []string{"class"})

	apiInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_api_requests_in_flight",
		Help: "Search API requests currently in flight",
	})
)

// Client is the search API client.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	UserAgent string

	// Per-request timeout (covers connect, headers and body)
	RequestTimeout time.Duration

	// Connection pool
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// ConnLifetime bounds how long pooled connections are reused.
	// Idle connections are dropped every ConnLifetime so that new
	// requests dial fresh connections. 0 disables recycling.
	ConnLifetime time.Duration

	// Limiter paces requests (nil = unpaced)
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:           userAgent,
		RequestTimeout:      30 * time.Second,
		MaxConnsPerHost:     5,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		ConnLifetime:        5 * time.Minute,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request_timeout must be > 0 (got %s)", cfg.RequestTimeout)
	}
	if cfg.MaxConnsPerHost <= 0 {
		return nil, fmt.Errorf("max_conns_per_host must be > 0 (got %d)", cfg.MaxConnsPerHost)
	}
	if cfg.MaxIdleConnsPerHost <= 0 || cfg.MaxIdleConnsPerHost > cfg.MaxConnsPerHost {
		cfg.MaxIdleConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.ConnLifetime < 0 {
		return nil, fmt.Errorf("conn_lifetime must be >= 0 (got %s)", cfg.ConnLifetime)
	}

	logger := log.With().Str("component", "api-client").Logger()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		transport: transport,
		limiter:   cfg.Limiter,
		config:    cfg,
		logger:    logger,
		stop:      make(chan struct{}),
	}

	if cfg.ConnLifetime > 0 {
		c.wg.Add(1)
		go c.recycleConnections(cfg.ConnLifetime)
	}

	return c, nil
}

// recycleConnections drops pooled idle connections every lifetime until Close.
func (c *Client) recycleConnections(lifetime time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(lifetime)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.transport.CloseIdleConnections()
			c.logger.Debug().Dur("conn_lifetime", lifetime).Msg("Recycled idle connections")
		}
	}
}

// Do performs an HTTP request with pacing, metrics and error classification.
// Non-2xx responses are returned as *APIError with the body closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	select {
	case <-c.stop:
		return nil, ErrClientClosed
	default:
	}

	ctx := req.Context()
	url := req.URL.String()

	if err := c.limiter.Wait(ctx); err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{URL: url, ErrorClass: ErrorClassNetwork, Message: "request not sent", Err: err}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("url", url).
		Str("method", req.Method).
		Msg("Executing API request")

	apiInFlight.Inc()
	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	apiRequestDuration.Observe(time.Since(startTime).Seconds())
	apiInFlight.Dec()

	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{URL: url, ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}

	apiRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		resp.Body.Close()

		apiErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")

		return nil, &APIError{URL: url, StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}

	return resp, nil
}

// Get performs a GET request and returns the full response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{URL: url, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	return body, nil
}

// GetJSON performs a GET request and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &APIError{URL: url, StatusCode: http.StatusOK, ErrorClass: ErrorClassDecode, Message: "malformed json", Err: err}
	}

	return nil
}

// Close stops connection recycling and releases pooled connections.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
		c.transport.CloseIdleConnections()
	})
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
