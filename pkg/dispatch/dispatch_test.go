package dispatch

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/domainmask/pkg/markup"
	"github.com/polisai/domainmask/pkg/urlmask"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		contentType string
		want        Kind
	}{
		{"text/html", HTML},
		{"text/html; charset=utf-8", HTML},
		{"TEXT/HTML;charset=UTF-8", HTML},
		{"application/xhtml+xml", HTML},
		{"application/json", JSON},
		{"application/ld+json", JSON},
		{"application/manifest+json; charset=utf-8", JSON},
		{"text/css", CSS},
		{"application/javascript", JavaScript},
		{"text/javascript; charset=utf-8", JavaScript},
		{"application/rss+xml", XML},
		{"text/xml", XML},
		{"image/png", Passthrough},
		{"application/octet-stream", Passthrough},
		{"", Passthrough},
		{"text/html; charset", HTML},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.contentType))
		})
	}
}

func TestSelect_EncodedBodiesPassThrough(t *testing.T) {
	assert.Equal(t, HTML, Select("text/html", ""))
	assert.Equal(t, HTML, Select("text/html", "identity"))
	assert.Equal(t, Passthrough, Select("text/html", "gzip"))
	assert.Equal(t, Passthrough, Select("application/json", "br"))
}

func TestBody(t *testing.T) {
	domains, err := urlmask.NewDomains([]string{"alias.com"}, "target.org")
	require.NoError(t, err)
	request, _ := url.Parse("https://alias.com/")
	ctx := domains.NewContext(domains.Aliases[0], request)

	tests := []struct {
		kind Kind
		in   string
		want string
	}{
		{HTML, `<a href="https://target.org/x">x</a>`, `<a href="https://alias.com/x">x</a>`},
		{JSON, `{"u":"https://target.org/x"}`, `{"u":"https://alias.com/x"}`},
		{CSS, `a{background:url(https://target.org/x.png)}`, `a{background:url("https://alias.com/x.png")}`},
		{JavaScript, `load('https://target.org/x')`, `load('https://alias.com/x')`},
		{XML, `<loc>https://target.org/x</loc>`, `<loc>https://alias.com/x</loc>`},
		{Passthrough, `https://target.org/x`, `https://target.org/x`},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			out, err := io.ReadAll(Body(tt.kind, strings.NewReader(tt.in), ctx, Options{}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))

			s, err := String(tt.kind, tt.in, ctx, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestBody_HTMLExposesStats(t *testing.T) {
	domains, err := urlmask.NewDomains([]string{"alias.com"}, "target.org")
	require.NoError(t, err)
	request, _ := url.Parse("https://alias.com/")
	ctx := domains.NewContext(domains.Aliases[0], request)

	r := Body(HTML, strings.NewReader(`<script src="https://www.googletagmanager.com/gtag/js"></script>`), ctx, Options{})
	_, err = io.ReadAll(r)
	require.NoError(t, err)

	mr, ok := r.(*markup.Reader)
	require.True(t, ok)
	assert.Equal(t, 1, mr.Stats().ElementsStripped)
}
