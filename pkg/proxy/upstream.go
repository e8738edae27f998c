package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/domainmask/internal/governance"
	"github.com/polisai/domainmask/pkg/urlmask"
)

// HeaderRequestID carries the request id to the origin and back to the client.
const HeaderRequestID = "X-Request-Id"

// NewUpstreamClient builds the origin client. Redirects are relayed rather than
// followed, and compression is left off so bodies arrive as identity.
func NewUpstreamClient(timeouts governance.TimeoutConfig, base http.RoundTripper) *http.Client {
	if base == nil {
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			ResponseHeaderTimeout: timeouts.RequestTimeout,
			DisableCompression:    true,
		}
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// fetch makes the single upstream attempt for r. A non-nil response is always
// returned together with a nil error.
func (h *Handler) fetch(ctx context.Context, r *http.Request, mctx *urlmask.Context, requestID string) (*http.Response, error) {
	outReq, err := http.NewRequestWithContext(ctx, r.Method, mctx.Target.String(), r.Body)
	if err != nil {
		return nil, internalError(fmt.Errorf("failed to create upstream request: %w", err))
	}
	outReq.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		outReq.Body = http.NoBody
		outReq.GetBody = nil
	}

	outReq.Header = r.Header.Clone()
	if outReq.Header == nil {
		outReq.Header = make(http.Header)
	}
	h.rewriter.PrepareUpstream(outReq.Header, mctx)
	outReq.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := h.client.Do(outReq)
	elapsed := time.Since(start)
	if err != nil {
		h.metrics.RecordUpstream("error", elapsed)
		return nil, upstreamFailed(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
	}
	h.metrics.RecordUpstream(statusClass(resp.StatusCode), elapsed)

	if resp.StatusCode >= http.StatusBadRequest && !h.passThroughErrors {
		_ = resp.Body.Close()
		return nil, upstreamFailed(fmt.Errorf("%w: origin returned %d", ErrUpstreamUnavailable, resp.StatusCode))
	}
	return resp, nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
