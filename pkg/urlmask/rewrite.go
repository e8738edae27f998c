package urlmask

import (
	"net"
	"net/url"
	"strings"
)

// Rewrite maps original from the masked (target) coordinate system into the
// request's. Strings that do not reference the masked host, data URIs, non-http
// schemes and unparsable input are returned unchanged. The result is always an
// absolute URL carrying the request's scheme, host and port. Absolute and
// protocol-relative input keeps everything after the authority byte for byte.
func Rewrite(original string, masked, request *url.URL) string {
	if masked == nil || request == nil {
		return original
	}

	resolved, ok := resolveHTTP(original, masked)
	if !ok {
		return original
	}

	host, ok := mapHost(resolved.Hostname(), masked.Hostname(), request.Hostname())
	if !ok {
		return original
	}

	authority := joinHostPort(host, request.Port())
	if userinfo, rest, ok := splitAuthority(strings.TrimSpace(original)); ok {
		return request.Scheme + "://" + userinfo + authority + rest
	}

	out := *resolved
	out.Scheme = request.Scheme
	out.Host = authority
	return out.String()
}

// splitAuthority returns the userinfo (with its "@") and everything after the
// authority of an http(s) or protocol-relative reference.
func splitAuthority(s string) (userinfo, rest string, ok bool) {
	switch {
	case hasPrefixFold(s, "https://"):
		s = s[len("https://"):]
	case hasPrefixFold(s, "http://"):
		s = s[len("http://"):]
	case strings.HasPrefix(s, "//"):
		s = s[len("//"):]
	default:
		return "", "", false
	}
	end := strings.IndexAny(s, "/?#")
	if end < 0 {
		end = len(s)
	}
	if at := strings.LastIndexByte(s[:end], '@'); at >= 0 {
		userinfo = s[:at+1]
	}
	return userinfo, s[end:], true
}

// resolveHTTP resolves raw against base and keeps only http(s) results.
func resolveHTTP(raw string, base *url.URL) (*url.URL, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, false
	}
	if hasPrefixFold(trimmed, "data:") {
		return nil, false
	}

	resolved, err := base.Parse(trimmed)
	if err != nil {
		return nil, false
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, false
	}
	if resolved.Host == "" {
		return nil, false
	}
	return resolved, true
}

// mapHost moves hostname from the masked host onto replacement, keeping any
// subdomain labels. It reports false when hostname is unrelated to masked.
func mapHost(hostname, masked, replacement string) (string, bool) {
	hostname = strings.ToLower(hostname)
	masked = strings.ToLower(masked)
	if masked == "" {
		return "", false
	}
	if hostname == masked {
		return replacement, true
	}
	if strings.HasSuffix(hostname, "."+masked) {
		return hostname[:len(hostname)-len(masked)] + replacement, true
	}
	return "", false
}

func joinHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
