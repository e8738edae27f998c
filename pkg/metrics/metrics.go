// Package metrics exposes the data plane's Prometheus metrics on the admin listener.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the mask. A nil *Metrics records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamLatency *prometheus.HistogramVec

	rewritesTotal    *prometheus.CounterVec
	elementsStripped prometheus.Counter
	commentsRemoved  prometheus.Counter
	bytesSent        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a metrics instance on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmask_requests_total",
				Help: "Requests handled by outcome and body rewriter",
			},
			[]string{"outcome", "kind", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domainmask_request_duration_seconds",
				Help:    "End-to-end request latency including body streaming",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domainmask_upstream_duration_seconds",
				Help:    "Time until the origin returned response headers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		rewritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmask_rewrites_total",
				Help: "Values rewritten by rewriter kind",
			},
			[]string{"kind"},
		),

		elementsStripped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "domainmask_analytics_elements_stripped_total",
				Help: "Analytics scripts, frames and resource hints removed from HTML",
			},
		),

		commentsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "domainmask_html_comments_removed_total",
				Help: "HTML comments removed from rewritten documents",
			},
		),

		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainmask_response_bytes_total",
				Help: "Response body bytes written to clients",
			},
			[]string{"kind"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upstreamLatency,
		m.rewritesTotal,
		m.elementsStripped,
		m.commentsRemoved,
		m.bytesSent,
	)

	return m
}

// RecordRequest records one finished request.
func (m *Metrics) RecordRequest(outcome, kind string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome, kind, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordUpstream records the time to origin response headers.
func (m *Metrics) RecordUpstream(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordRewrites adds n rewritten values for kind.
func (m *Metrics) RecordRewrites(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rewritesTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordMarkup records the HTML-specific removals of one document.
func (m *Metrics) RecordMarkup(stripped, comments int) {
	if m == nil {
		return
	}
	if stripped > 0 {
		m.elementsStripped.Add(float64(stripped))
	}
	if comments > 0 {
		m.commentsRemoved.Add(float64(comments))
	}
}

// RecordBytes records body bytes sent for kind.
func (m *Metrics) RecordBytes(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesSent.WithLabelValues(kind).Add(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
