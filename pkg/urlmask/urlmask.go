// Package urlmask maps URLs between the hidden target origin and the public alias
// domain. Everything in this package is pure: no I/O, no globals, and every
// exported value is safe for concurrent use once constructed.
package urlmask

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultScheme is applied to configured domains that omit a scheme.
const DefaultScheme = "https"

// ErrInvalidDomain reports a configured alias or target that is not a usable origin.
var ErrInvalidDomain = errors.New("urlmask: invalid domain")

// Domains is the immutable per-deployment domain configuration.
type Domains struct {
	Aliases []*url.URL
	Target  *url.URL

	hosts *HostMatcher
}

// NewDomains normalises the alias set and target origin. Entries may be bare hosts
// ("alias.com"), hosts with ports, or full origins.
func NewDomains(aliases []string, target string) (Domains, error) {
	targetURL, err := ParseOrigin(target)
	if err != nil {
		return Domains{}, fmt.Errorf("target domain: %w", err)
	}

	parsed := make([]*url.URL, 0, len(aliases))
	for _, raw := range aliases {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		alias, err := ParseOrigin(raw)
		if err != nil {
			return Domains{}, fmt.Errorf("alias domain %q: %w", raw, err)
		}
		parsed = append(parsed, alias)
	}
	if len(parsed) == 0 {
		return Domains{}, fmt.Errorf("%w: at least one alias domain is required", ErrInvalidDomain)
	}

	return Domains{
		Aliases: parsed,
		Target:  targetURL,
		hosts:   NewHostMatcher(targetURL.Hostname()),
	}, nil
}

// ParseOrigin parses a host or origin string, defaulting the scheme to https.
// Only scheme and host survive; any path is discarded.
func ParseOrigin(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if !strings.Contains(raw, "://") {
		raw = DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDomain, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidDomain, raw)
	}

	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}, nil
}

// Hosts returns the host-token matcher compiled for the target.
func (d Domains) Hosts() *HostMatcher {
	if d.hosts == nil && d.Target != nil {
		return NewHostMatcher(d.Target.Hostname())
	}
	return d.hosts
}

// MatchAlias returns the configured alias whose host matches host. A configured
// alias without a port accepts the host on any port.
func (d Domains) MatchAlias(host string) (*url.URL, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return nil, false
	}
	hostname := stripPort(host)
	for _, alias := range d.Aliases {
		if alias.Host == host {
			return alias, true
		}
		if alias.Port() == "" && alias.Hostname() == hostname {
			return alias, true
		}
	}
	return nil, false
}

// NewContext builds the per-request rewrite snapshot.
func (d Domains) NewContext(alias, request *url.URL) *Context {
	return &Context{
		Alias:   alias,
		Target:  Outbound(request, d.Target),
		Request: request,
		hosts:   d.Hosts(),
	}
}

// Context is the rewrite snapshot for exactly one request.
type Context struct {
	Alias   *url.URL
	Target  *url.URL
	Request *url.URL

	hosts *HostMatcher
}

// RewriteURL maps a URL-like string found in a response into alias coordinates.
func (c *Context) RewriteURL(raw string) string {
	return Rewrite(raw, c.Target, c.Request)
}

// RewriteHosts replaces every target host token inside free text.
func (c *Context) RewriteHosts(text string) string {
	return c.Hosts().Replace(text, c.Request)
}

// Hosts returns the matcher for the target host.
func (c *Context) Hosts() *HostMatcher {
	if c.hosts == nil {
		c.hosts = NewHostMatcher(c.Target.Hostname())
	}
	return c.hosts
}

// ReferencesTarget reports whether raw resolves to the target host or one of its subdomains.
func (c *Context) ReferencesTarget(raw string) bool {
	resolved, ok := resolveHTTP(raw, c.Target)
	if !ok {
		return false
	}
	_, ok = mapHost(resolved.Hostname(), c.Target.Hostname(), "")
	return ok
}

// RequestURL is the exact alias-facing URL of the current request.
func (c *Context) RequestURL() string {
	return c.Request.String()
}

// Outbound copies the request's path and query onto the target origin.
func Outbound(request, target *url.URL) *url.URL {
	out := &url.URL{
		Scheme: target.Scheme,
		Host:   target.Host,
	}
	if request == nil {
		out.Path = "/"
		return out
	}
	out.Path = request.Path
	out.RawPath = request.RawPath
	out.RawQuery = request.RawQuery
	out.ForceQuery = request.ForceQuery
	if out.Path == "" {
		out.Path = "/"
	}
	return out
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}
