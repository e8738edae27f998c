package proxy

import (
	"net/http"
	"strings"
)

// statusRecorder wraps http.ResponseWriter to prevent multiple WriteHeader calls
// and remember the status that reached the client.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.ResponseWriter.WriteHeader(code)
		r.status = code
		r.wroteHeader = true
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the written status, or 200 if nothing was written yet.
func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// flushCountingWriter counts body bytes and flushes after every write so a
// rewritten stream reaches the client as soon as each chunk is ready.
type flushCountingWriter struct {
	http.ResponseWriter
	flusher http.Flusher
	count   int64
}

func newFlushCountingWriter(w http.ResponseWriter) *flushCountingWriter {
	fw := &flushCountingWriter{ResponseWriter: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}
	return fw
}

func (w *flushCountingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	if err == nil {
		w.count += int64(n)
		if w.flusher != nil {
			w.flusher.Flush()
		}
	}
	return n, err
}

// copyResponseHeaders copies origin headers to the client, skipping the
// hop-by-hop set and any header the origin named in Connection.
func copyResponseHeaders(dst, src http.Header) {
	skip := map[string]struct{}{}
	for _, value := range src.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		if _, ok := skip[http.CanonicalHeaderKey(key)]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHopHeader(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
		"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade":
		return true
	default:
		return false
	}
}

// weakenETag marks a strong validator weak once the body bytes have changed.
func weakenETag(h http.Header) {
	etag := h.Get("ETag")
	if etag == "" || strings.HasPrefix(etag, "W/") {
		return
	}
	h.Set("ETag", "W/"+etag)
}
