package gate

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/domainmask/pkg/urlmask"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	domains, err := urlmask.NewDomains([]string{"alias.com", "https://mirror.example:8443", "localhost"}, "target.org")
	require.NoError(t, err)
	return New(domains)
}

func TestAdmit(t *testing.T) {
	g := newGate(t)

	tests := []struct {
		name        string
		target      string
		forwarded   string
		wantRequest string
		wantTarget  string
	}{
		{"plain http", "http://alias.com/page?x=1", "", "http://alias.com/page?x=1", "https://target.org/page?x=1"},
		{"forwarded https", "http://alias.com/", "https", "https://alias.com/", "https://target.org/"},
		{"forwarded list", "http://alias.com/a", "https, http", "https://alias.com/a", "https://target.org/a"},
		{"alias without port accepts any port", "http://localhost:8787/x", "", "http://localhost:8787/x", "https://target.org/x"},
		{"alias with port", "http://mirror.example:8443/", "https", "https://mirror.example:8443/", "https://target.org/"},
		{"host case", "http://ALIAS.com/", "", "http://alias.com/", "https://target.org/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-Proto", tt.forwarded)
			}

			ctx, err := g.Admit(r)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRequest, ctx.RequestURL())
			assert.Equal(t, tt.wantTarget, ctx.Target.String())
		})
	}
}

func TestAdmit_TLS(t *testing.T) {
	r := httptest.NewRequest("GET", "http://alias.com/secure", nil)
	r.TLS = &tls.ConnectionState{}

	ctx, err := newGate(t).Admit(r)
	require.NoError(t, err)
	assert.Equal(t, "https://alias.com/secure", ctx.RequestURL())
}

func TestAdmit_UnauthorizedHost(t *testing.T) {
	g := newGate(t)

	for _, host := range []string{"target.org", "evil.com", "alias.com.evil.com", "mirror.example:9000", ""} {
		r := httptest.NewRequest("GET", "http://placeholder/", nil)
		r.Host = host

		ctx, err := g.Admit(r)
		assert.ErrorIs(t, err, ErrUnauthorizedHost, host)
		assert.Nil(t, ctx)
	}
}
