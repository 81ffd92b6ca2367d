package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coinpulse/internal/market/fallback"
	"coinpulse/internal/market/fetcher"
)

// Metrics is the Prometheus side of the gateway. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	outcomes        *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	limiterWait     prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_fetch_outcomes_total",
		Help: "Fetch outcomes by upstream, fallback category and data source",
	}, []string{"upstream", "category", "kind", "source"})

	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_upstream_requests_total",
		Help: "Upstream requests by status and error kind",
	}, []string{"upstream", "status", "error"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinpulse_upstream_request_duration_seconds",
		Help:    "Upstream request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"upstream"})

	limiterWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinpulse_limiter_wait_seconds",
		Help:    "Time spent waiting for an upstream dispatch slot",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 1.2, 2.5, 5, 10, 30},
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpulse_http_requests_total",
		Help: "Gateway HTTP requests",
	}, []string{"route", "status_class"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinpulse_http_request_duration_seconds",
		Help:    "Gateway HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	registry.MustRegister(outcomes, upstreamCalls, upstreamLatency, limiterWait, requests, requestDuration)

	return &Metrics{
		registry:        registry,
		outcomes:        outcomes,
		upstreamCalls:   upstreamCalls,
		upstreamLatency: upstreamLatency,
		limiterWait:     limiterWait,
		requests:        requests,
		requestDuration: requestDuration,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome implements fetcher.Observer.
func (m *Metrics) ObserveOutcome(upstream string, category fallback.Category, o fetcher.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(upstream, string(category), string(o.Kind), string(o.Source)).Inc()
}

// ObserveUpstream implements fetcher.Observer. status is 0 when no response
// arrived.
func (m *Metrics) ObserveUpstream(upstream string, status int, errKind fetcher.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	kind := string(errKind)
	if kind == "" {
		kind = "none"
	}
	m.upstreamCalls.WithLabelValues(upstream, code, kind).Inc()
	m.upstreamLatency.WithLabelValues(upstream).Observe(elapsed.Seconds())
}

// ObserveLimiterWait is meant for ratelimit.WithWaitObserver.
func (m *Metrics) ObserveLimiterWait(d time.Duration) {
	if m == nil {
		return
	}
	m.limiterWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

var _ fetcher.Observer = (*Metrics)(nil)
