package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	relayDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionrelay",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Lifecycle event deliveries to the receiving service.",
		},
		[]string{"node", "kind", "success"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessionrelay",
			Subsystem: "relay",
			Name:      "delivery_duration_seconds",
			Help:      "Lifecycle event delivery duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "kind", "success"},
	)
	lifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessionrelay",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle signals handled, by outcome.",
		},
		[]string{"node", "signal", "outcome"},
	)
	sessionAuthenticated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessionrelay",
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while the messaging session is authenticated.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			relayDeliveries,
			relayDuration,
			lifecycleTransitions,
			sessionAuthenticated,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRelayDelivery(node, kind string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	relayDeliveries.WithLabelValues(node, kind, successLabel).Inc()
	relayDuration.WithLabelValues(node, kind, successLabel).Observe(duration.Seconds())
}

func RecordTransition(node, signal, outcome string) {
	RegisterMetrics()
	lifecycleTransitions.WithLabelValues(node, signal, outcome).Inc()
}

func SetAuthenticated(node string, authenticated bool) {
	RegisterMetrics()
	v := 0.0
	if authenticated {
		v = 1
	}
	sessionAuthenticated.WithLabelValues(node).Set(v)
}
