package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations tracks store operations by backend, operation and result
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_store_operations_total",
			Help: "Total number of page store operations",
		},
		[]string{"backend", "operation", "result"}, // result: "ok", "miss", "error"
	)

	// StoreBytes tracks bytes currently buffered by backend
	StoreBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_store_bytes",
			Help: "Bytes of page data currently buffered in the page store",
		},
		[]string{"backend"},
	)
)

func observe(backend Backend, operation string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "miss"
	default:
		result = "error"
	}
	StoreOperations.WithLabelValues(string(backend), operation, result).Inc()
}
