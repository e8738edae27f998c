package headers

import (
	"strings"

	"github.com/polisai/domainmask/pkg/urlmask"
)

// rewriteLocation resolves a redirect target against the origin. The target host
// and its www. variant both map onto the request authority; other subdomains keep
// their labels. Anything unparsable or foreign is returned unchanged.
func rewriteLocation(ctx *urlmask.Context, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	resolved, err := ctx.Target.Parse(trimmed)
	if err != nil {
		return value
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return value
	}

	if stripWWW(resolved.Hostname()) == stripWWW(ctx.Target.Hostname()) {
		out := *resolved
		out.Scheme = ctx.Request.Scheme
		out.Host = ctx.Request.Host
		return out.String()
	}
	return ctx.RewriteURL(trimmed)
}

func stripWWW(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// rewriteCookie replaces the Domain attribute of one Set-Cookie value. Cookies
// without a Domain attribute are host-only already and are left alone.
func (rw *Rewriter) rewriteCookie(ctx *urlmask.Context, value string) string {
	parts := strings.Split(value, ";")
	found := false
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i == 0 {
			out = append(out, part)
			continue
		}
		name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
		if !strings.EqualFold(strings.TrimSpace(name), "domain") {
			out = append(out, part)
			continue
		}
		found = true
		switch rw.cookieMode {
		case CookieDomainStrip:
			// dropped
		case CookieDomainAlias:
			out = append(out, " Domain="+ctx.Request.Hostname())
		default:
			out = append(out, " Domain="+ctx.Hosts().Host())
		}
	}
	if !found {
		return value
	}
	return strings.Join(out, ";")
}
