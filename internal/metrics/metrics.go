// Package metrics exposes Prometheus collectors for swaps and relayer traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fusion"

// Registry holds every collector in this package plus the Go runtime ones.
var Registry = prometheus.NewRegistry()

var (
	SwapsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_started_total",
		Help:      "Swap attempts that reached order submission.",
	})

	SwapsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_finished_total",
		Help:      "Swap attempts by outcome (terminal status, timeout, failure stage).",
	}, []string{"outcome"})

	ActiveSwaps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "swaps_active",
		Help:      "Swaps currently in the polling loop.",
	})

	SecretsShared = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "secrets_shared_total",
		Help:      "Secrets accepted by the relayer.",
	})

	PollIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_iterations_total",
		Help:      "Polling loop iterations across all swaps.",
	})

	RelayerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relayer",
		Name:      "requests_total",
		Help:      "Relayer API requests by endpoint and HTTP status code.",
	}, []string{"endpoint", "code"})

	RelayerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "relayer",
		Name:      "request_duration_seconds",
		Help:      "Relayer API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	BreakerOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relayer",
		Name:      "breaker_open",
		Help:      "1 while the relayer circuit breaker is open.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SwapsStarted,
		SwapsFinished,
		ActiveSwaps,
		SecretsShared,
		PollIterations,
		RelayerRequests,
		RelayerLatency,
		BreakerOpen,
	)
}

// ObserveRelayerRequest records one relayer round trip. code is 0 when the
// request never got a response.
func ObserveRelayerRequest(endpoint string, code int, took time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	RelayerRequests.WithLabelValues(endpoint, label).Inc()
	RelayerLatency.WithLabelValues(endpoint).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
