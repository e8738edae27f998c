// Package gate admits inbound requests addressed to a configured alias and
// builds their per-request rewrite context.
package gate

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/polisai/domainmask/pkg/urlmask"
)

// ErrUnauthorizedHost reports a request whose Host is not a configured alias.
var ErrUnauthorizedHost = errors.New("host not in alias set")

// Gate validates inbound hosts against the alias set.
type Gate struct {
	domains urlmask.Domains
}

// New returns a Gate over an immutable domain configuration.
func New(domains urlmask.Domains) *Gate {
	return &Gate{domains: domains}
}

// Domains returns the configuration the gate admits against.
func (g *Gate) Domains() urlmask.Domains {
	return g.domains
}

// Admit checks the request host and returns the rewrite context for it. No
// upstream work may start when it returns an error.
func (g *Gate) Admit(r *http.Request) (*urlmask.Context, error) {
	host := requestHost(r)
	alias, ok := g.domains.MatchAlias(host)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnauthorizedHost, host)
	}
	return g.domains.NewContext(alias, RequestURL(r)), nil
}

// RequestURL reconstructs the alias-facing URL of r. The scheme comes from the
// TLS state or a trusted X-Forwarded-Proto and defaults to http.
func RequestURL(r *http.Request) *url.URL {
	return &url.URL{
		Scheme:     requestScheme(r),
		Host:       strings.ToLower(requestHost(r)),
		Path:       r.URL.Path,
		RawPath:    r.URL.RawPath,
		RawQuery:   r.URL.RawQuery,
		ForceQuery: r.URL.ForceQuery,
	}
}

func requestHost(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return r.URL.Host
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		switch p := strings.ToLower(strings.TrimSpace(first)); p {
		case "http", "https":
			return p
		}
	}
	if r.URL.Scheme == "https" {
		return "https"
	}
	return "http"
}
