package urlmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHostMatcher_Replace(t *testing.T) {
	m := NewHostMatcher("httpbin.org")
	request := mustURL(t, "https://alias.com/")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", "Welcome to httpbin.org!", "Welcome to alias.com!"},
		{"url", `see https://httpbin.org/get?a=1`, `see https://alias.com/get?a=1`},
		{"http url", `http://httpbin.org/x`, `https://alias.com/x`},
		{"protocol relative", `src="//httpbin.org/a.js"`, `src="//alias.com/a.js"`},
		{"subdomain", "api.httpbin.org/v1", "api.alias.com/v1"},
		{"port dropped", "https://httpbin.org:8443/x", "https://alias.com/x"},
		{"js escaped", `"https:\/\/httpbin.org\/get"`, `"https:\/\/alias.com\/get"`},
		{"percent encoded", `?next=https%3A%2F%2Fhttpbin.org%2Fx`, `?next=https%3A%2F%2Falias.com%2Fx`},
		{"entity encoded", `https&#x3A;&#x2F;&#x2F;httpbin.org/`, `https&#x3A;&#x2F;&#x2F;alias.com/`},
		{"case insensitive", "HTTPBIN.ORG", "alias.com"},
		{"csp wildcard", "img-src 'self' *.httpbin.org", "img-src 'self' *.alias.com"},
		{"partial word prefix", "nothttpbin.org", "nothttpbin.org"},
		{"partial word suffix", "httpbin.org.evil.net", "httpbin.org.evil.net"},
		{"label suffix", "httpbin.organic", "httpbin.organic"},
		{"end of sentence", "Go to httpbin.org.", "Go to alias.com."},
		{"no mention", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Replace(tt.in, request))
		})
	}
}

func TestHostMatcher_ReplaceKeepsRequestPort(t *testing.T) {
	m := NewHostMatcher("target.org")
	request := mustURL(t, "http://localhost:8787/")

	assert.Equal(t, "http://localhost:8787/x and localhost:8787", m.Replace("https://target.org/x and target.org", request))
}

func TestHostMatcher_NeverTouchesUnrelatedText(t *testing.T) {
	m := NewHostMatcher("target.org")
	request := mustURL(t, "https://alias.com/")

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-z .:/"'<>=-]{0,80}`).Draw(t, "text")
		if m.Contains(text) {
			t.Skip("mentions host")
		}
		if got := m.Replace(text, request); got != text {
			t.Fatalf("unrelated text changed: %q -> %q", text, got)
		}
	})
}

func TestHostSet(t *testing.T) {
	set := HostSet{"googletagmanager.com", "google-analytics.com"}
	base := mustURL(t, "https://target.org/")

	assert.True(t, set.Match("www.googletagmanager.com"))
	assert.True(t, set.Match("google-analytics.com"))
	assert.False(t, set.Match("notgoogle-analytics.com"))
	assert.True(t, set.MatchURL("//www.googletagmanager.com/gtag/js?id=G-1", base))
	assert.False(t, set.MatchURL("/local.js", base))
	assert.True(t, set.LoadsFrom("j.src='https://www.googletagmanager.com/gtm.js?id='+i", base))
	assert.True(t, set.LoadsFrom(`{"src":"https:\/\/www.google-analytics.com\/a.js"}`, base))
	assert.True(t, set.LoadsFrom("load(`//www.googletagmanager.com/gtm.js`)", base))
	assert.False(t, set.LoadsFrom(`app.start({note:"we do not use google-analytics.com"});`, base))
	assert.False(t, set.LoadsFrom(`fetch("https://notgoogle-analytics.com/x")`, base))
	assert.False(t, set.LoadsFrom(`// https://www.googletagmanager.com unquoted`, base))
}
