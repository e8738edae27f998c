// Package headers rewrites request headers before they go upstream and response
// headers before they reach the client.
package headers

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/polisai/domainmask/pkg/urlmask"
)

// RobotsTag is set on every response so the alias is never indexed.
const RobotsTag = "noindex, nofollow, noarchive, nosnippet"

// CookieDomainMode selects what replaces a Set-Cookie Domain attribute.
type CookieDomainMode string

const (
	// CookieDomainTarget writes the configured target host.
	CookieDomainTarget CookieDomainMode = "target"
	// CookieDomainAlias writes the host the client addressed.
	CookieDomainAlias CookieDomainMode = "alias"
	// CookieDomainStrip removes the attribute, scoping the cookie to the exact host.
	CookieDomainStrip CookieDomainMode = "strip"
)

// ParseCookieDomainMode validates a configured mode. Empty means target.
func ParseCookieDomainMode(s string) (CookieDomainMode, error) {
	switch mode := CookieDomainMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return CookieDomainTarget, nil
	case CookieDomainTarget, CookieDomainAlias, CookieDomainStrip:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown cookie domain mode %q", s)
	}
}

// hopByHop headers apply to a single connection and are never forwarded.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var linkTarget = regexp.MustCompile(`<([^>]*)>`)

// Rewriter applies both header phases. It is immutable and safe to share.
type Rewriter struct {
	cookieMode CookieDomainMode
	blocked    map[string]struct{}
}

// NewRewriter builds a Rewriter for the given cookie domain mode.
func NewRewriter(mode CookieDomainMode) *Rewriter {
	if mode == "" {
		mode = CookieDomainTarget
	}
	blocked := make(map[string]struct{}, len(hopByHop)+1)
	for _, name := range append(hopByHop, "Accept-Encoding") {
		blocked[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	return &Rewriter{cookieMode: mode, blocked: blocked}
}

// CookieMode reports the configured cookie domain mode.
func (rw *Rewriter) CookieMode() CookieDomainMode {
	return rw.cookieMode
}

// PrepareUpstream is the request pre-phase. h must be a copy owned by the
// outgoing request.
func (rw *Rewriter) PrepareUpstream(h http.Header, ctx *urlmask.Context) {
	if h == nil {
		return
	}

	// Headers named in Connection are hop-by-hop too.
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for name := range h {
		if _, blocked := rw.blocked[http.CanonicalHeaderKey(name)]; blocked {
			delete(h, name)
		}
	}

	h.Set("X-Forwarded-Host", ctx.Request.Host)
	h.Set("X-Forwarded-Proto", "https")

	// Origins that check Origin or Referer should see their own host.
	alias := &url.URL{Scheme: ctx.Request.Scheme, Host: ctx.Request.Host}
	for _, name := range []string{"Origin", "Referer"} {
		if v := h.Get(name); v != "" {
			h.Set(name, urlmask.Rewrite(v, alias, ctx.Target))
		}
	}
}

// RewriteResponse is the response post-phase. It mutates h in place and
// returns the number of header values it changed.
func (rw *Rewriter) RewriteResponse(h http.Header, ctx *urlmask.Context) int {
	if h == nil {
		return 0
	}
	changed := 0

	h.Set("X-Robots-Tag", RobotsTag)
	h.Del("Strict-Transport-Security")

	if isTextHTML(h.Get("Content-Type")) {
		h.Set("Link", "<"+ctx.RequestURL()+`>; rel="canonical"`)
	} else {
		changed += rewriteValues(h, "Link", func(v string) string {
			return linkTarget.ReplaceAllStringFunc(v, func(m string) string {
				return "<" + ctx.RewriteURL(m[1:len(m)-1]) + ">"
			})
		})
	}

	for _, name := range []string{"Location", "Content-Location"} {
		changed += rewriteValues(h, name, func(v string) string {
			return rewriteLocation(ctx, v)
		})
	}

	changed += rewriteValues(h, "Set-Cookie", func(v string) string {
		return rw.rewriteCookie(ctx, v)
	})

	for _, name := range []string{"Content-Security-Policy", "Content-Security-Policy-Report-Only"} {
		changed += rewriteValues(h, name, ctx.RewriteHosts)
	}

	return changed
}

func rewriteValues(h http.Header, name string, fn func(string) string) int {
	values := h.Values(name)
	if len(values) == 0 {
		return 0
	}
	changed := 0
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fn(v)
		if out[i] != v {
			changed++
		}
	}
	if changed > 0 {
		h[http.CanonicalHeaderKey(name)] = out
	}
	return changed
}

func isTextHTML(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return mediaType == "text/html"
}
