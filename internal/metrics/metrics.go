// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/florianilch/vebra-proxy/internal/vebra"
)

// Metrics holds all Prometheus metrics for the proxy.
type Metrics struct {
	TokenAcquisitions *prometheus.CounterVec
	UpstreamRequests  *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	TokenCached       prometheus.GaugeFunc

	// tokenExpiry is the cached token's expiry in Unix nanoseconds, 0 if none.
	tokenExpiry atomic.Int64
	now         func() time.Time
	registry    *prometheus.Registry
}

// Compile-time check to ensure Metrics can receive client events
var _ vebra.Recorder = (*Metrics)(nil)

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TokenAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vebra_token_acquisitions_total",
				Help: "Total token acquisition attempts by result.",
			},
			[]string{"result"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vebra_upstream_requests_total",
				Help: "Total upstream API responses by resource and status code.",
			},
			[]string{"resource", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vebra_request_duration_seconds",
				Help:    "Proxy request duration by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		now:      time.Now,
		registry: reg,
	}
	m.TokenCached = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "vebra_token_cached",
			Help: "Whether a live upstream token is cached (1) or not (0).",
		},
		m.tokenLive,
	)

	reg.MustRegister(m.TokenAcquisitions)
	reg.MustRegister(m.UpstreamRequests)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.TokenCached)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAcquisition increments the token acquisition counter.
func (m *Metrics) RecordAcquisition(result string) {
	m.TokenAcquisitions.WithLabelValues(result).Inc()
}

// RecordUpstream increments the upstream response counter.
func (m *Metrics) RecordUpstream(resource string, status int) {
	m.UpstreamRequests.WithLabelValues(resource, strconv.Itoa(status)).Inc()
}

// SetTokenExpiry records the cached token's expiry. The zero time means no token.
func (m *Metrics) SetTokenExpiry(expiresAt time.Time) {
	if expiresAt.IsZero() {
		m.tokenExpiry.Store(0)
		return
	}
	m.tokenExpiry.Store(expiresAt.UnixNano())
}

// tokenLive is evaluated at scrape time so natural expiry is reflected.
func (m *Metrics) tokenLive() float64 {
	exp := m.tokenExpiry.Load()
	if exp == 0 || !m.now().Before(time.Unix(0, exp)) {
		return 0
	}
	return 1
}

// ObserveRequest records how long a proxy request for endpoint took.
func (m *Metrics) ObserveRequest(endpoint string, d time.Duration) {
	m.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}
