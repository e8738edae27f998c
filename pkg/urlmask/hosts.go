package urlmask

import (
	"net/url"
	"regexp"
	"strings"
)

// schemeSeparators and slashForms cover the literal, JS-escaped, percent-encoded
// and HTML-entity spellings of "https://" seen in markup, scripts and JSON.
const (
	schemeSeparators = `:|%3a|\\u003a|\\x3a|&#x3a;|&#58;|&colon;`
	slashForms       = `//|\\/\\/|%2f%2f|\\u002f\\u002f|\\x2f\\x2f|&#x2f;&#x2f;|&#47;&#47;|&sol;&sol;`
)

// HostMatcher finds whole-hostname occurrences of one host, optionally prefixed by
// a scheme and/or "//", inside arbitrary text.
type HostMatcher struct {
	host string
	re   *regexp.Regexp
}

// NewHostMatcher compiles a matcher for host (case-insensitive).
func NewHostMatcher(host string) *HostMatcher {
	host = strings.ToLower(strings.TrimSpace(host))
	pattern := `(?i)(https?(?:` + schemeSeparators + `))?(` + slashForms + `)?((?:[a-z0-9-]+\.)*)` +
		regexp.QuoteMeta(host) + `(:[0-9]+)?`
	return &HostMatcher{
		host: host,
		re:   regexp.MustCompile(pattern),
	}
}

// Host returns the matched hostname.
func (m *HostMatcher) Host() string {
	return m.host
}

// Matches reports whether hostname is the host or one of its subdomains.
func (m *HostMatcher) Matches(hostname string) bool {
	_, ok := mapHost(hostname, m.host, "")
	return ok
}

// Contains is a cheap pre-check: whether text mentions the host at all.
func (m *HostMatcher) Contains(text string) bool {
	return m.host != "" && indexFold(text, m.host) >= 0
}

// Replace rewrites every host token in text to request's authority. Scheme-bearing
// tokens take the request scheme; the spelling of separators is preserved so
// escaped forms stay escaped. Tokens that are only part of a longer hostname
// ("nottarget.com", "target.com.evil") are left alone.
func (m *HostMatcher) Replace(text string, request *url.URL) string {
	if request == nil || !m.Contains(text) {
		return text
	}

	matches := m.re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, loc := range matches {
		start, end := loc[0], loc[1]
		hasScheme := loc[2] >= 0
		hasSlashes := loc[4] >= 0
		if !hasScheme && !hasSlashes && !leftBoundary(text, start) {
			continue
		}
		if !rightBoundary(text, end) {
			continue
		}

		if b.Len() == 0 {
			b.Grow(len(text) + 16)
		}
		b.WriteString(text[last:start])
		if hasScheme {
			scheme := text[loc[2]:loc[3]]
			b.WriteString(request.Scheme)
			b.WriteString(scheme[schemeLen(scheme):])
		}
		if hasSlashes {
			b.WriteString(text[loc[4]:loc[5]])
		}
		if loc[6] >= 0 {
			b.WriteString(text[loc[6]:loc[7]])
		}
		b.WriteString(request.Host)
		last = end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func schemeLen(scheme string) int {
	if len(scheme) >= 5 && (scheme[4] == 's' || scheme[4] == 'S') {
		return 5
	}
	return 4
}

func isHostByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

// leftBoundary rejects matches glued to a preceding label character.
func leftBoundary(text string, start int) bool {
	return start == 0 || !isHostByte(text[start-1])
}

// rightBoundary rejects matches that continue into a longer hostname.
func rightBoundary(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	c := text[end]
	if isHostByte(c) {
		return false
	}
	if c == '.' && end+1 < len(text) && isHostByte(text[end+1]) {
		return false
	}
	return true
}

// indexFold is an allocation-free ASCII case-insensitive strings.Index.
func indexFold(s, substr string) int {
	n := len(substr)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// HostSet matches hostnames against a list of domains, subdomains included.
type HostSet []string

// Match reports whether hostname equals or is a subdomain of any member.
func (s HostSet) Match(hostname string) bool {
	for _, host := range s {
		if _, ok := mapHost(hostname, host, ""); ok {
			return true
		}
	}
	return false
}

// MatchURL resolves raw against base and matches its hostname.
func (s HostSet) MatchURL(raw string, base *url.URL) bool {
	resolved, ok := resolveHTTP(raw, base)
	if !ok {
		return false
	}
	return s.Match(resolved.Hostname())
}

var quotedLiteral = regexp.MustCompile(`"(?:[^"\\\n]|\\.)*"|'(?:[^'\\\n]|\\.)*'|` + "`[^`]*`")

// LoadsFrom reports whether any quoted literal in code is an absolute or
// protocol-relative URL on a member host. A hostname that only appears in
// prose ("we do not use doubleclick.net") does not count.
func (s HostSet) LoadsFrom(code string, base *url.URL) bool {
	for _, lit := range quotedLiteral.FindAllString(code, -1) {
		raw := strings.TrimSpace(lit[1 : len(lit)-1])
		raw = strings.ReplaceAll(raw, `\/`, "/")
		if !hasPrefixFold(raw, "http://") && !hasPrefixFold(raw, "https://") && !strings.HasPrefix(raw, "//") {
			continue
		}
		if s.MatchURL(raw, base) {
			return true
		}
	}
	return false
}
