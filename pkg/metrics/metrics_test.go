package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordRequest("ok", "html", 200, 120*time.Millisecond)
	m.RecordRequest("ok", "html", 200, 80*time.Millisecond)
	m.RecordRequest("rejected", "passthrough", 403, time.Millisecond)
	m.RecordRewrites("html", 3)
	m.RecordRewrites("header", 0)
	m.RecordMarkup(2, 1)
	m.RecordBytes("html", 512)
	m.RecordUpstream("ok", 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("ok", "html", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("rejected", "passthrough", "403")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rewritesTotal.WithLabelValues("html")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.elementsStripped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commentsRemoved))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.bytesSent.WithLabelValues("html")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.upstreamLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("ok", "html", 200, time.Second)
		m.RecordUpstream("ok", time.Second)
		m.RecordRewrites("html", 1)
		m.RecordMarkup(1, 1)
		m.RecordBytes("html", 1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordRequest("ok", "json", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `domainmask_requests_total{code="200",kind="json",outcome="ok"} 1`)
}
