// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pennywise/pennywise/internal/apperr"
)

var (
	ledgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pennywise",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by outcome.",
	}, []string{"op", "outcome"})

	ledgerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pennywise",
		Subsystem: "ledger",
		Name:      "retries_total",
		Help:      "Ledger units of work retried after a serialization failure or deadlock.",
	}, []string{"op"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pennywise",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveLedger counts a ledger operation; rejections are labelled by error kind.
func ObserveLedger(op string, err error) {
	outcome := "committed"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	ledgerOperations.WithLabelValues(op, outcome).Inc()
}

// LedgerRetry counts one retried unit of work.
func LedgerRetry(op string) {
	ledgerRetries.WithLabelValues(op).Inc()
}

// ObserveHTTP records one request duration in seconds.
func ObserveHTTP(method, route, status string, seconds float64) {
	httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// Handler serves the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
