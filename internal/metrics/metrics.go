// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "temple"

// Provider records service metrics
type Provider interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	IncDivinations(outcome string)
	IncNotifications(kind string)
	IncDonations(currency, status string)
	GaugeFunc(name, help string, fn func() float64)
	Handler() http.Handler
}

// PrometheusProvider is a Provider backed by its own registry
type PrometheusProvider struct {
	registry        *prometheus.Registry
	factory         promauto.Factory
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	divinations     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	donations       *prometheus.CounterVec
}

// New returns a Prometheus provider, or a no-op one when disabled
func New(enabled bool) Provider {
	if !enabled {
		return noopMetrics{}
	}
	return NewPrometheusProvider(prometheus.NewRegistry())
}

// NewPrometheusProvider registers every collector on reg
func NewPrometheusProvider(reg *prometheus.Registry) *PrometheusProvider {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PrometheusProvider{
		registry: reg,
		factory:  f,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_hits_total",
			Help:      "Total number of wallet snapshot cache hits",
		}),

		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_misses_total",
			Help:      "Total number of wallet snapshot cache misses",
		}),

		divinations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divinations_total",
			Help:      "Divinations issued, by outcome",
		}, []string{"outcome"}),

		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered, by kind",
		}, []string{"kind"}),

		donations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donations_total",
			Help:      "Settled donations, by currency and status",
		}, []string{"currency", "status"}),
	}
}

func (m *PrometheusProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *PrometheusProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *PrometheusProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *PrometheusProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *PrometheusProvider) IncDivinations(outcome string) {
	m.divinations.WithLabelValues(outcome).Inc()
}

func (m *PrometheusProvider) IncNotifications(kind string) {
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *PrometheusProvider) IncDonations(currency, status string) {
	m.donations.WithLabelValues(currency, status).Inc()
}

// GaugeFunc registers a gauge sampled from fn at scrape time
func (m *PrometheusProvider) GaugeFunc(name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *PrometheusProvider) Registry() *prometheus.Registry {
	return m.registry
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// noopMetrics is used when metrics are disabled
type noopMetrics struct{}

func (noopMetrics) IncRequestsTotal(string, int)                 {}
func (noopMetrics) ObserveRequestDuration(string, time.Duration) {}
func (noopMetrics) IncCacheHits()                                {}
func (noopMetrics) IncCacheMisses()                              {}
func (noopMetrics) IncDivinations(string)                        {}
func (noopMetrics) IncNotifications(string)                      {}
func (noopMetrics) IncDonations(string, string)                  {}
func (noopMetrics) GaugeFunc(string, string, func() float64)     {}
func (noopMetrics) Handler() http.Handler                        { return http.NotFoundHandler() }
