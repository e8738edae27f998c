package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	requestCounter   metric.Int64Counter
	latencyHistogram metric.Float64Histogram
	strippedCounter  metric.Int64Counter
)

// RequestMetrics captures the fields needed to record one proxied request.
type RequestMetrics struct {
	Outcome  string
	Kind     string
	Status   int
	Duration time.Duration
	Stripped int
}

// RecordRequest emits the request counter and latency histogram.
func RecordRequest(ctx context.Context, m RequestMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("request.outcome", m.Outcome),
		attribute.String("rewrite.kind", m.Kind),
		attribute.Int("http.response.status_code", m.Status),
	)

	requestCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		latencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Stripped > 0 {
		strippedCounter.Add(ctx, int64(m.Stripped), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("domainmask.proxy")

		requestCounter, metricsInitErr = meter.Int64Counter(
			"domainmask.requests_total",
			metric.WithDescription("Proxied requests partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		latencyHistogram, metricsInitErr = meter.Float64Histogram(
			"domainmask.request.duration_ms",
			metric.WithDescription("Observed end-to-end request latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		strippedCounter, metricsInitErr = meter.Int64Counter(
			"domainmask.analytics.stripped_total",
			metric.WithDescription("Analytics elements removed from HTML responses"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordRewriteEvent attaches the rewrite summary of a response to span.
func RecordRewriteEvent(span trace.Span, kind string, headerRewrites, bodyRewrites, stripped int) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("rewrite.complete", trace.WithAttributes(
		attribute.String("rewrite.kind", kind),
		attribute.Int("rewrite.headers.count", headerRewrites),
		attribute.Int("rewrite.body.count", bodyRewrites),
		attribute.Int("rewrite.stripped.count", stripped),
	))
}
