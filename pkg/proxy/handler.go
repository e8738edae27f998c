// Package proxy is the data-plane handler: it gates a request on the alias set,
// fetches the hidden origin once, rewrites the body and headers, and streams the
// result back.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/domainmask/internal/governance"
	"github.com/polisai/domainmask/pkg/dispatch"
	"github.com/polisai/domainmask/pkg/gate"
	"github.com/polisai/domainmask/pkg/headers"
	"github.com/polisai/domainmask/pkg/markup"
	"github.com/polisai/domainmask/pkg/metrics"
	"github.com/polisai/domainmask/pkg/telemetry"
	"github.com/polisai/domainmask/pkg/urlmask"
)

// RobotsBody is served for /robots.txt on every alias.
const RobotsBody = "User-agent: *\nDisallow: /"

// Config holds everything the handler needs. It is read once at construction.
type Config struct {
	Domains           urlmask.Domains
	CookieMode        headers.CookieDomainMode
	AnalyticsHosts    urlmask.HostSet
	PassThroughErrors bool
	Timeouts          governance.TimeoutConfig
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	// Transport overrides the base upstream round tripper.
	Transport http.RoundTripper
}

// Handler serves masked requests.
type Handler struct {
	gate              *gate.Gate
	rewriter          *headers.Rewriter
	timeouts          *governance.TimeoutManager
	client            *http.Client
	bodyOptions       dispatch.Options
	passThroughErrors bool
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := governance.NewTimeoutManager(cfg.Timeouts)

	return &Handler{
		gate:              gate.New(cfg.Domains),
		rewriter:          headers.NewRewriter(cfg.CookieMode),
		timeouts:          timeouts,
		client:            NewUpstreamClient(timeouts.Config(), cfg.Transport),
		bodyOptions:       dispatch.Options{AnalyticsHosts: cfg.AnalyticsHosts},
		passThroughErrors: cfg.PassThroughErrors,
		logger:            logger,
		metrics:           cfg.Metrics,
	}
}

// exchange is the bookkeeping for one request.
type exchange struct {
	state          State
	kind           string
	headerRewrites int
	bodyRewrites   int
	stripped       int
	comments       int
	bytes          int64
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := h.logger.With(
		"request_id", requestID,
		"method", r.Method,
		"host", r.Host,
		"path", r.URL.Path,
	)
	rec.Header().Set(HeaderRequestID, requestID)

	ex := &exchange{state: StateReceived, kind: dispatch.Passthrough.String()}

	defer func() {
		if rv := recover(); rv != nil {
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			logger.Error("panic while handling request", "panic", rv, "stack", string(debug.Stack()))
			h.fail(rec, internalError(fmt.Errorf("panic: %v", rv)), ex, logger)
		}
		h.finish(r.Context(), logger, ex, rec.Status(), time.Since(start))
	}()

	if err := h.serve(rec, r, requestID, ex, logger); err != nil {
		h.fail(rec, err, ex, logger)
	}
}

func (h *Handler) serve(w *statusRecorder, r *http.Request, requestID string, ex *exchange, logger *slog.Logger) error {
	mctx, err := h.gate.Admit(r)
	if err != nil {
		return rejected(err)
	}
	ex.state = StateValidated

	if r.URL.Path == "/robots.txt" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		writeRobots(w, r.Method)
		ex.kind = "robots"
		ex.state = StateEmitted
		return nil
	}

	ctx, cancel := h.timeouts.WithExchangeTimeout(r.Context())
	defer cancel()

	resp, err := h.fetch(ctx, r, mctx, requestID)
	if err != nil {
		return err
	}
	body := h.timeouts.WrapBody(resp.Body)
	defer func() {
		if cerr := body.Close(); cerr != nil {
			logger.LogAttrs(ctx, slog.LevelDebug, "failed to close upstream body", slog.String("error", cerr.Error()))
		}
	}()
	ex.state = StateFetched

	kind := dispatch.Select(resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"))
	ex.kind = kind.String()
	reader := dispatch.Body(kind, body, mctx, h.bodyOptions)
	ex.state = StateBodyTransformed

	out := w.Header()
	copyResponseHeaders(out, resp.Header)
	out.Set(HeaderRequestID, requestID)
	ex.headerRewrites = h.rewriter.RewriteResponse(out, mctx)
	if kind != dispatch.Passthrough {
		out.Del("Content-Length")
		weakenETag(out)
	}
	ex.state = StateHeadersRewritten

	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead || !bodyAllowed(resp.StatusCode) {
		ex.state = StateEmitted
		return nil
	}

	stream := newFlushCountingWriter(w)
	_, copyErr := io.Copy(stream, reader)
	ex.bytes = stream.count
	ex.state = StateEmitted

	if mr, ok := reader.(*markup.Reader); ok {
		stats := mr.Stats()
		ex.bodyRewrites = stats.AttributesRewritten + stats.TextRewritten
		ex.stripped = stats.ElementsStripped
		ex.comments = stats.CommentsRemoved
	}

	if copyErr != nil {
		// Headers are gone; the client sees a truncated body.
		level := slog.LevelWarn
		if errors.Is(copyErr, context.Canceled) {
			level = slog.LevelDebug
		}
		logger.LogAttrs(ctx, level, "response stream interrupted",
			slog.String("error", copyErr.Error()),
			slog.Bool("idle_timeout", errors.Is(copyErr, governance.ErrIdleTimeout)),
			slog.Int64("bytes", ex.bytes),
		)
	}
	return nil
}

// fail writes the fixed response for err unless headers already went out.
func (h *Handler) fail(w *statusRecorder, err error, ex *exchange, logger *slog.Logger) {
	se := asStatusError(err)
	ex.state = failureState(se.Code)

	switch se.Code {
	case http.StatusForbidden:
		logger.Info("request rejected", "error", se.Err)
	case http.StatusBadGateway:
		logger.Warn("upstream failed", "error", se.Err)
	default:
		logger.Error("request failed", "error", se.Err)
	}

	if w.wroteHeader {
		return
	}
	hdr := w.Header()
	for key := range hdr {
		if key != HeaderRequestID {
			hdr.Del(key)
		}
	}
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("X-Robots-Tag", headers.RobotsTag)
	w.WriteHeader(se.Code)
	_, _ = io.WriteString(w, se.Message)
}

func (h *Handler) finish(ctx context.Context, logger *slog.Logger, ex *exchange, status int, duration time.Duration) {
	outcome := ex.state.String()

	h.metrics.RecordRequest(outcome, ex.kind, status, duration)
	h.metrics.RecordRewrites("headers", ex.headerRewrites)
	h.metrics.RecordRewrites(ex.kind, ex.bodyRewrites)
	h.metrics.RecordMarkup(ex.stripped, ex.comments)
	h.metrics.RecordBytes(ex.kind, ex.bytes)

	telemetry.RecordRequest(ctx, telemetry.RequestMetrics{
		Outcome:  outcome,
		Kind:     ex.kind,
		Status:   status,
		Duration: duration,
		Stripped: ex.stripped,
	})

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("domainmask.outcome", outcome),
			attribute.String("domainmask.rewrite.kind", ex.kind),
		)
		telemetry.RecordRewriteEvent(span, ex.kind, ex.headerRewrites, ex.bodyRewrites, ex.stripped)
	}

	logger.Info("request completed",
		"outcome", outcome,
		"status", status,
		"kind", ex.kind,
		"bytes", ex.bytes,
		"header_rewrites", ex.headerRewrites,
		"stripped", ex.stripped,
		"duration_ms", duration.Milliseconds(),
	)
}

func writeRobots(w http.ResponseWriter, method string) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/plain")
	hdr.Set("Cache-Control", "public, max-age=86400")
	hdr.Set("X-Robots-Tag", headers.RobotsTag)
	w.WriteHeader(http.StatusOK)
	if method != http.MethodHead {
		_, _ = io.WriteString(w, RobotsBody)
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
