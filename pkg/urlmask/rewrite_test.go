package urlmask

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustURL(t testing.TB, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRewrite_Table(t *testing.T) {
	masked := mustURL(t, "https://target.org/blog/post")
	request := mustURL(t, "https://alias.com/blog/post")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"absolute", "https://target.org/x?y=1#z", "https://alias.com/x?y=1#z"},
		{"http scheme takes request scheme", "http://target.org/x", "https://alias.com/x"},
		{"protocol relative", "//target.org/img/a.png", "https://alias.com/img/a.png"},
		{"root relative", "/about", "https://alias.com/about"},
		{"path relative", "next", "https://alias.com/blog/next"},
		{"subdomain", "https://api.target.org/v1", "https://api.alias.com/v1"},
		{"uppercase host", "https://TARGET.org/x", "https://alias.com/x"},
		{"trailing slash kept", "https://target.org/dir/", "https://alias.com/dir/"},
		{"raw fragment kept", "https://target.org/x#a b", "https://alias.com/x#a b"},
		{"non-ascii path kept", "https://target.org/café?q=ü", "https://alias.com/café?q=ü"},
		{"dot segments kept", "//target.org/a/../b", "https://alias.com/a/../b"},
		{"userinfo kept", "https://u:p@target.org/x", "https://u:p@alias.com/x"},
		{"query without path", "https://target.org?x=1", "https://alias.com?x=1"},
		{"unrelated host", "https://cdn.example.net/x.js", "https://cdn.example.net/x.js"},
		{"partial word host", "https://nottarget.org/x", "https://nottarget.org/x"},
		{"data uri", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
		{"data uri uppercase", "DATA:text/plain,hi", "DATA:text/plain,hi"},
		{"mailto", "mailto:team@target.org", "mailto:team@target.org"},
		{"ftp", "ftp://target.org/file", "ftp://target.org/file"},
		{"javascript", "javascript:void(0)", "javascript:void(0)"},
		{"malformed escape", "https://target.org/%zz", "https://target.org/%zz"},
		{"bad port", "https://target.org:abc/", "https://target.org:abc/"},
		{"empty", "", ""},
		{"fragment only", "#section", "#section"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rewrite(tt.in, masked, request))
		})
	}
}

func TestRewrite_UsesRequestAuthority(t *testing.T) {
	masked := mustURL(t, "https://target.org/")
	request := mustURL(t, "http://localhost:8787/")

	assert.Equal(t, "http://localhost:8787/a/b?c=d", Rewrite("https://target.org/a/b?c=d", masked, request))
	assert.Equal(t, "http://api.localhost:8787/x", Rewrite("https://api.target.org/x", masked, request))
}

func TestRewrite_NilURLsPassThrough(t *testing.T) {
	assert.Equal(t, "https://target.org/", Rewrite("https://target.org/", nil, nil))
}

func genSuffix() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		path := rapid.StringMatching(`(/[a-z0-9_-]{1,8}){0,4}/?`).Draw(t, "path")
		query := rapid.StringMatching(`([a-z]{1,5}=[a-z0-9]{0,5}(&[a-z]{1,5}=[a-z0-9]{0,5}){0,2})?`).Draw(t, "query")
		frag := rapid.StringMatching(`[a-z0-9-]{0,6}`).Draw(t, "fragment")

		suffix := path
		if query != "" {
			suffix += "?" + query
		}
		if frag != "" {
			suffix += "#" + frag
		}
		return suffix
	})
}

func TestRewrite_PreservesPathQueryFragment(t *testing.T) {
	masked := mustURL(t, "https://target.org/")

	rapid.Check(t, func(t *rapid.T) {
		suffix := genSuffix().Draw(t, "suffix")
		scheme := rapid.SampledFrom([]string{"http", "https"}).Draw(t, "scheme")
		authority := rapid.SampledFrom([]string{"https://alias.com", "http://localhost:8787", "https://www.alias.io:8443"}).Draw(t, "authority")
		request, err := url.Parse(authority + "/page")
		if err != nil {
			t.Fatalf("parse request: %v", err)
		}

		in := scheme + "://target.org" + suffix
		out := Rewrite(in, masked, request)

		if !strings.HasPrefix(out, authority) {
			t.Fatalf("expected authority %s in %s", authority, out)
		}
		if got := strings.TrimPrefix(out, authority); got != suffix {
			t.Fatalf("suffix changed: in=%q out=%q", suffix, got)
		}
	})
}

func TestRewrite_UnrelatedIsIdentity(t *testing.T) {
	masked := mustURL(t, "https://target.org/")
	request := mustURL(t, "https://alias.com/")

	rapid.Check(t, func(t *rapid.T) {
		host := rapid.StringMatching(`[a-z]{1,10}\.(com|net|dev)`).Draw(t, "host")
		if host == "target.org" || strings.HasSuffix(host, ".target.org") {
			t.Skip("generated the target host")
		}
		prefix := rapid.SampledFrom([]string{"https://", "http://", "//", "ftp://", "data:text/plain,", "mailto:x@"}).Draw(t, "prefix")
		in := prefix + host + genSuffix().Draw(t, "suffix")

		if out := Rewrite(in, masked, request); out != in {
			t.Fatalf("unrelated URL rewritten: %q -> %q", in, out)
		}
	})
}

func TestRewrite_Idempotent(t *testing.T) {
	masked := mustURL(t, "https://target.org/")
	request := mustURL(t, "https://alias.com/")

	rapid.Check(t, func(t *rapid.T) {
		sub := rapid.SampledFrom([]string{"", "api.", "cdn.static."}).Draw(t, "sub")
		in := "https://" + sub + "target.org" + genSuffix().Draw(t, "suffix")

		once := Rewrite(in, masked, request)
		twice := Rewrite(once, masked, request)
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}

func TestOutbound_CopiesPathAndQuery(t *testing.T) {
	target := mustURL(t, "https://target.org")
	request := mustURL(t, "http://localhost:8787/a%2Fb/c?x=1&y=2")

	out := Outbound(request, target)
	assert.Equal(t, "https://target.org/a%2Fb/c?x=1&y=2", out.String())

	assert.Equal(t, "https://target.org/", Outbound(mustURL(t, "http://alias.com"), target).String())
}
