package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus collectors reported by the service.
type Metrics struct {
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	redemptions     *prometheus.CounterVec
	consumptions    *prometheus.CounterVec
	storeFallbacks  *prometheus.CounterVec
}

// NewMetrics registers collectors with reg. A nil registerer uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "growth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growth",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by route, method and domain code.",
		}, []string{"path", "method", "code"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growth",
			Subsystem: "entitlement",
			Name:      "resolutions_total",
			Help:      "Entitlement resolutions by winning source.",
		}, []string{"source"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growth",
			Subsystem: "entitlement",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		consumptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growth",
			Subsystem: "entitlement",
			Name:      "consumptions_total",
			Help:      "Usage consumption attempts by outcome.",
		}, []string{"outcome"}),
		storeFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growth",
			Subsystem: "entitlement",
			Name:      "store_fallbacks_total",
			Help:      "Entitlement Store calls that failed and fell back to the local cache.",
		}, []string{"operation"}),
	}

	collectors := []prometheus.Collector{
		m.requestCount, m.requestDuration, m.errorCount,
		m.resolutions, m.redemptions, m.consumptions, m.storeFallbacks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordResolution counts which tier answered a resolution.
func (m *Metrics) RecordResolution(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
}

// RecordRedemption counts redemption outcomes.
func (m *Metrics) RecordRedemption(path, outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(path, outcome).Inc()
}

// RecordConsumption counts consumption outcomes.
func (m *Metrics) RecordConsumption(outcome string) {
	if m == nil {
		return
	}
	m.consumptions.WithLabelValues(outcome).Inc()
}

// RecordStoreFallback counts store failures that were absorbed by the cache path.
func (m *Metrics) RecordStoreFallback(operation string) {
	if m == nil {
		return
	}
	m.storeFallbacks.WithLabelValues(operation).Inc()
}
