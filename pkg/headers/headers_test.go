package headers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/domainmask/pkg/urlmask"
)

func newContext(t *testing.T, requestURL string) *urlmask.Context {
	t.Helper()
	domains, err := urlmask.NewDomains([]string{"alias.com", "localhost"}, "target.org")
	require.NoError(t, err)
	request, err := url.Parse(requestURL)
	require.NoError(t, err)
	alias, ok := domains.MatchAlias(request.Host)
	require.True(t, ok)
	return domains.NewContext(alias, request)
}

func TestPrepareUpstream(t *testing.T) {
	ctx := newContext(t, "https://alias.com/page")
	h := http.Header{}
	h.Set("Accept-Encoding", "gzip, br")
	h.Set("Connection", "keep-alive, X-Custom-Hop")
	h.Set("X-Custom-Hop", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Upgrade", "websocket")
	h.Set("Cookie", "sid=1")
	h.Set("Referer", "https://alias.com/previous?q=1")
	h.Set("Origin", "https://alias.com")

	NewRewriter(CookieDomainTarget).PrepareUpstream(h, ctx)

	for _, name := range []string{"Accept-Encoding", "Connection", "X-Custom-Hop", "Keep-Alive", "Upgrade"} {
		assert.Empty(t, h.Values(name), name)
	}
	assert.Equal(t, "sid=1", h.Get("Cookie"))
	assert.Equal(t, "alias.com", h.Get("X-Forwarded-Host"))
	assert.Equal(t, "https", h.Get("X-Forwarded-Proto"))
	assert.Equal(t, "https://target.org/previous?q=1", h.Get("Referer"))
	assert.Equal(t, "https://target.org", h.Get("Origin"))
}

func TestPrepareUpstream_LocalDevelopment(t *testing.T) {
	ctx := newContext(t, "http://localhost:8787/x")
	h := http.Header{}
	h.Set("Referer", "http://localhost:8787/x")

	NewRewriter("").PrepareUpstream(h, ctx)

	assert.Equal(t, "localhost:8787", h.Get("X-Forwarded-Host"))
	assert.Equal(t, "https", h.Get("X-Forwarded-Proto"))
	assert.Equal(t, "https://target.org/x", h.Get("Referer"))
}

func TestRewriteResponse_HTML(t *testing.T) {
	ctx := newContext(t, "https://alias.com/page?x=1")
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Strict-Transport-Security", "max-age=31536000")
	h.Set("Link", "</style.css>; rel=preload")
	h.Set("Content-Security-Policy", "default-src 'self' https://target.org *.target.org; img-src https://cdn.example.com")
	h.Set("Content-Security-Policy-Report-Only", "script-src https://static.target.org")

	NewRewriter(CookieDomainTarget).RewriteResponse(h, ctx)

	assert.Equal(t, RobotsTag, h.Get("X-Robots-Tag"))
	assert.Empty(t, h.Values("Strict-Transport-Security"))
	assert.Equal(t, []string{`<https://alias.com/page?x=1>; rel="canonical"`}, h.Values("Link"))
	assert.Equal(t, "default-src 'self' https://alias.com *.alias.com; img-src https://cdn.example.com", h.Get("Content-Security-Policy"))
	assert.Equal(t, "script-src https://static.alias.com", h.Get("Content-Security-Policy-Report-Only"))
}

func TestRewriteResponse_NonHTMLLinkRewritten(t *testing.T) {
	ctx := newContext(t, "https://alias.com/api")
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Add("Link", `<https://target.org/api?page=2>; rel="next"`)
	h.Add("Link", `<https://example.com/docs>; rel="help"`)

	NewRewriter(CookieDomainTarget).RewriteResponse(h, ctx)

	assert.Equal(t, []string{`<https://alias.com/api?page=2>; rel="next"`, `<https://example.com/docs>; rel="help"`}, h.Values("Link"))
	assert.Equal(t, RobotsTag, h.Get("X-Robots-Tag"))
}

func TestRewriteResponse_Location(t *testing.T) {
	tests := []struct {
		name       string
		requestURL string
		location   string
		want       string
	}{
		{"absolute", "https://alias.com/", "https://target.org/y", "https://alias.com/y"},
		{"www ignored", "https://alias.com/", "https://www.target.org/y?z=1", "https://alias.com/y?z=1"},
		{"relative", "https://alias.com/account", "/login?next=%2Faccount", "https://alias.com/login?next=%2Faccount"},
		{"subdomain keeps label", "https://alias.com/", "https://api.target.org/v1", "https://api.alias.com/v1"},
		{"foreign untouched", "https://alias.com/", "https://accounts.example.com/auth", "https://accounts.example.com/auth"},
		{"unparsable untouched", "https://alias.com/", "://bad", "://bad"},
		{"local development", "http://localhost:8787/", "https://target.org/y", "http://localhost:8787/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newContext(t, tt.requestURL)
			h := http.Header{}
			h.Set("Location", tt.location)

			NewRewriter(CookieDomainTarget).RewriteResponse(h, ctx)
			assert.Equal(t, tt.want, h.Get("Location"))
		})
	}
}

func TestRewriteResponse_SetCookie(t *testing.T) {
	cookies := []string{
		"sid=1; Path=/; Domain=.target.org; HttpOnly",
		"pref=dark; domain=www.target.org; Secure",
		"host_only=1; Path=/",
	}

	tests := []struct {
		mode CookieDomainMode
		want []string
	}{
		{CookieDomainTarget, []string{
			"sid=1; Path=/; Domain=target.org; HttpOnly",
			"pref=dark; Domain=target.org; Secure",
			"host_only=1; Path=/",
		}},
		{CookieDomainAlias, []string{
			"sid=1; Path=/; Domain=alias.com; HttpOnly",
			"pref=dark; Domain=alias.com; Secure",
			"host_only=1; Path=/",
		}},
		{CookieDomainStrip, []string{
			"sid=1; Path=/; HttpOnly",
			"pref=dark; Secure",
			"host_only=1; Path=/",
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			ctx := newContext(t, "https://alias.com/")
			h := http.Header{}
			for _, c := range cookies {
				h.Add("Set-Cookie", c)
			}

			NewRewriter(tt.mode).RewriteResponse(h, ctx)
			assert.Equal(t, tt.want, h.Values("Set-Cookie"))
		})
	}
}

func TestRewriteResponse_ReportsChanges(t *testing.T) {
	ctx := newContext(t, "https://alias.com/")
	h := http.Header{}
	h.Set("Location", "https://target.org/")
	h.Add("Set-Cookie", "a=1; Domain=alias.com")

	assert.Equal(t, 2, NewRewriter(CookieDomainTarget).RewriteResponse(h, ctx))
	assert.Equal(t, 0, NewRewriter(CookieDomainTarget).RewriteResponse(http.Header{}, ctx))
}

func TestParseCookieDomainMode(t *testing.T) {
	for in, want := range map[string]CookieDomainMode{
		"":        CookieDomainTarget,
		"target":  CookieDomainTarget,
		" Alias ": CookieDomainAlias,
		"STRIP":   CookieDomainStrip,
	} {
		got, err := ParseCookieDomainMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCookieDomainMode("subdomain")
	assert.Error(t, err)
}
