// Package monitoring exposes Prometheus metrics for upstream fetches, the
// borough cache, view sessions and the HTTP surface, and sets up tracing.
package monitoring

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

// Fetch outcomes recorded by ObserveFetch.
const (
	OutcomeOK     = "ok"
	OutcomeNoData = "no_data"
	OutcomeError  = "error"
)

// Cache lookup results recorded by ObserveLookup.
const (
	LookupHit  = "hit"
	LookupJoin = "join"
	LookupMiss = "miss"
)

// Collector bundles the service's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	UpstreamRequests  *prometheus.CounterVec
	UpstreamDurations prometheus.Histogram
	CacheLookups      *prometheus.CounterVec
	OpenSessions      prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDurations     *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	upstream, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "healthmap_upstream_requests_total",
		Help: "Disease API requests, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	upstreamDur, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "healthmap_upstream_request_duration_seconds",
		Help:    "Disease API request latency in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}))
	if err != nil {
		return nil, err
	}

	lookups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "healthmap_cache_lookups_total",
		Help: "Borough cache lookups, labeled by hit, join (in flight) or miss.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	sessions, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "healthmap_open_sessions",
		Help: "Current number of open view sessions.",
	}))
	if err != nil {
		return nil, err
	}

	httpReqs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "healthmap_http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}))
	if err != nil {
		return nil, err
	}

	httpDur, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "healthmap_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		UpstreamRequests:  upstream,
		UpstreamDurations: upstreamDur,
		CacheLookups:      lookups,
		OpenSessions:      sessions,
		HTTPRequests:      httpReqs,
		HTTPDurations:     httpDur,
	}, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records one upstream request.
func (c *Collector) ObserveFetch(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.UpstreamRequests.WithLabelValues(outcome).Inc()
	c.UpstreamDurations.Observe(d.Seconds())
}

// ObserveLookup records one cache lookup.
func (c *Collector) ObserveLookup(result string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

// SessionOpened increments the open-session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.OpenSessions.Inc()
}

// SessionClosed decrements the open-session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.OpenSessions.Dec()
}

// ObserveHTTP records one handled HTTP request.
func (c *Collector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

// register adds col to reg, reusing an already-registered collector of the
// same type.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, eris.Wrap(err, "monitoring: register collector")
	}
	return col, nil
}
