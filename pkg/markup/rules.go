package markup

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/polisai/domainmask/pkg/textrewrite"
	"github.com/polisai/domainmask/pkg/urlmask"
)

// urlAttributes hold a single URL.
var urlAttributes = map[string]bool{
	"href":       true,
	"src":        true,
	"data-src":   true,
	"data-href":  true,
	"action":     true,
	"formaction": true,
	"poster":     true,
	"background": true,
	"cite":       true,
	"manifest":   true,
}

// srcsetAttributes hold comma-separated image candidates.
var srcsetAttributes = map[string]bool{
	"srcset":      true,
	"data-srcset": true,
	"imagesrcset": true,
}

// urlMetas are meta names and properties whose content is a URL.
var urlMetas = map[string]bool{
	"og:image":                true,
	"og:image:url":            true,
	"og:image:secure_url":     true,
	"og:video":                true,
	"og:video:url":            true,
	"og:audio":                true,
	"twitter:image":           true,
	"twitter:image:src":       true,
	"twitter:player":          true,
	"msapplication-config":    true,
	"msapplication-tileimage": true,
}

// selfMetas always point at the page itself.
var selfMetas = map[string]bool{
	"og:url":      true,
	"twitter:url": true,
}

var refreshURL = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'"]*)`)

type verdict struct {
	changed bool
	drop    bool
	hold    bool
}

func (r *Reader) rewriteElement(tok *html.Token) verdict {
	switch tok.Data {
	case "script", "iframe", "img":
		if src, ok := attr(tok, "src"); ok && r.analytics.MatchURL(src, r.ctx.Target) {
			return verdict{drop: true}
		}
		v := r.rewriteAttributes(tok)
		if tok.Data == "script" {
			_, hasSrc := attr(tok, "src")
			typ, _ := attr(tok, "type")
			v.hold = !hasSrc && isJavaScriptType(typ)
		}
		return v
	case "noscript":
		v := r.rewriteAttributes(tok)
		v.hold = true
		return v
	case "link":
		if href, ok := attr(tok, "href"); ok && r.analytics.MatchURL(href, r.ctx.Target) {
			return verdict{drop: true}
		}
		if rel, _ := attr(tok, "rel"); hasToken(rel, "canonical") {
			return r.rewriteCanonical(tok)
		}
	case "meta":
		return r.rewriteMeta(tok)
	}
	return r.rewriteAttributes(tok)
}

// isJavaScriptType reports whether a script type attribute denotes executable
// code. Data blocks such as application/json or application/ld+json are not.
func isJavaScriptType(typ string) bool {
	typ = strings.ToLower(strings.TrimSpace(typ))
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	switch typ {
	case "", "module", "text/javascript", "application/javascript", "application/ecmascript",
		"text/ecmascript", "application/x-javascript", "text/x-javascript", "text/jscript":
		return true
	}
	return false
}

func (r *Reader) rewriteAttributes(tok *html.Token) verdict {
	var v verdict
	masked := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if (a.Key == "src" || a.Key == "href") && r.ctx.ReferencesTarget(a.Val) {
			masked = true
		}
		r.set(&v, a, r.rewriteAttribute(a.Key, a.Val))
	}
	// The proxy rewrites bodies it serves, so their subresource hashes no longer hold.
	if masked && removeAttr(tok, "integrity") {
		v.changed = true
	}
	return v
}

func (r *Reader) rewriteAttribute(key, val string) string {
	switch {
	case val == "":
		return val
	case urlAttributes[key]:
		return r.ctx.RewriteURL(val)
	case srcsetAttributes[key]:
		return rewriteSrcset(r.ctx, val)
	case key == "style":
		return r.ctx.RewriteHosts(cssText(r.ctx, val))
	default:
		return r.ctx.RewriteHosts(val)
	}
}

func (r *Reader) rewriteCanonical(tok *html.Token) verdict {
	var v verdict
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if a.Key == "href" {
			r.set(&v, a, r.ctx.RequestURL())
			continue
		}
		r.set(&v, a, r.rewriteAttribute(a.Key, a.Val))
	}
	return v
}

func (r *Reader) rewriteMeta(tok *html.Token) verdict {
	name, ok := attr(tok, "property")
	if !ok {
		name, ok = attr(tok, "name")
	}
	if !ok {
		name, _ = attr(tok, "itemprop")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	equiv, _ := attr(tok, "http-equiv")

	var v verdict
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if a.Key != "content" {
			r.set(&v, a, r.rewriteAttribute(a.Key, a.Val))
			continue
		}
		switch {
		case selfMetas[name]:
			r.set(&v, a, r.ctx.RequestURL())
		case urlMetas[name] || name == "url":
			r.set(&v, a, r.ctx.RewriteURL(a.Val))
		case strings.EqualFold(strings.TrimSpace(equiv), "refresh"):
			r.set(&v, a, rewriteRefresh(r.ctx, a.Val))
		default:
			r.set(&v, a, r.ctx.RewriteHosts(a.Val))
		}
	}
	return v
}

func (r *Reader) set(v *verdict, a *html.Attribute, next string) {
	if next == a.Val {
		return
	}
	a.Val = next
	v.changed = true
	r.stats.AttributesRewritten++
}

func rewriteRefresh(ctx *urlmask.Context, content string) string {
	loc := refreshURL.FindStringSubmatchIndex(content)
	if loc == nil {
		return content
	}
	target := content[loc[2]:loc[3]]
	rewritten := ctx.RewriteURL(target)
	if rewritten == target {
		return content
	}
	return content[:loc[2]] + rewritten + content[loc[3]:]
}

// rewriteSrcset rewrites every candidate URL and keeps its descriptor.
func rewriteSrcset(ctx *urlmask.Context, val string) string {
	var candidates []string
	rest := val
	changed := false
	for {
		rest = strings.TrimLeft(rest, " \t\n\r\f,")
		if rest == "" {
			break
		}

		end := strings.IndexAny(rest, " \t\n\r\f")
		if end < 0 {
			end = len(rest)
		}
		ref := rest[:end]
		rest = rest[end:]

		descriptor := ""
		if strings.HasSuffix(ref, ",") {
			ref = strings.TrimRight(ref, ",")
		} else if comma := strings.IndexByte(rest, ','); comma >= 0 {
			descriptor = strings.TrimSpace(rest[:comma])
			rest = rest[comma+1:]
		} else {
			descriptor = strings.TrimSpace(rest)
			rest = ""
		}

		rewritten := ctx.RewriteURL(ref)
		if rewritten != ref {
			changed = true
		}
		if descriptor != "" {
			rewritten += " " + descriptor
		}
		candidates = append(candidates, rewritten)
	}
	if !changed {
		return val
	}
	return strings.Join(candidates, ", ")
}

func cssText(ctx *urlmask.Context, css string) string {
	return textrewrite.CSS(ctx, css)
}

func attr(tok *html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func removeAttr(tok *html.Token, key string) bool {
	for i, a := range tok.Attr {
		if a.Key == key {
			tok.Attr = append(tok.Attr[:i], tok.Attr[i+1:]...)
			return true
		}
	}
	return false
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}
